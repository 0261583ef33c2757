package refengine

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Seeded history
const (
	HomeDevice   = "home-macbook-pro"
	HomeIP       = "192.168.1.100"
	HomeLat      = 43.0389
	HomeLon      = -87.9065
	HomeLocation = "Milwaukee, WI"

	seedLogins   = 10
	seedSpacing  = 3 * 24 * time.Hour
	seedRecentAt = 20 * time.Minute
)

var errDuplicateUser = errors.New("Username or email already exists")

type loginRecord struct {
	At      time.Time
	IP      string
	Device  string
	Lat     *float64
	Lon     *float64
	Score   int
	Level   string
	Success bool
}

type user struct {
	username     string
	email        string
	passwordHash []byte
	trusted      map[string]bool
	logins       []loginRecord
	lastLogin    time.Time
}

func (u *user) checkPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) == nil
}

// lastLocatedLogin returns the latest successful login that carried coordinates.
func (u *user) lastLocatedLogin() *loginRecord {
	var last *loginRecord
	for i := range u.logins {
		l := &u.logins[i]
		if !l.Success || l.Lat == nil || l.Lon == nil {
			continue
		}
		if last == nil || l.At.After(last.At) {
			last = l
		}
	}
	return last
}

type pendingAuth struct {
	id       int
	username string
	code     string
	expires  time.Time
	attempts int
	used     bool
	ip       string
	device   string
}

// store is the engine's in-memory state. Callers hold Engine.mu.
type store struct {
	users      map[string]*user
	pending    map[int]*pendingAuth
	nextPendID int
}

func newStore() *store {
	return &store{
		users:      make(map[string]*user),
		pending:    make(map[int]*pendingAuth),
		nextPendID: 1,
	}
}

func (s *store) addUser(username, email, password string) error {
	for _, u := range s.users {
		if u.username == username || (email != "" && u.email == email) {
			return errDuplicateUser
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.users[username] = &user{
		username:     username,
		email:        email,
		passwordHash: hash,
		trusted:      make(map[string]bool),
	}
	return nil
}

// newPending registers a step-up and retires the user's earlier unused ones,
// so only the latest passcode verifies.
func (s *store) newPending(p *pendingAuth) *pendingAuth {
	for _, old := range s.pending {
		if old.username == p.username && !old.used {
			old.used = true
		}
	}
	p.id = s.nextPendID
	s.nextPendID++
	s.pending[p.id] = p
	return p
}

// seed appends a normal history around the home location and trusts the
// home device. Trust is idempotent; history accumulates.
func (s *store) seed(u *user, now time.Time) int {
	lat, lon := HomeLat, HomeLon
	for i := 0; i < seedLogins; i++ {
		hour := time.Duration(9+i%8) * time.Hour
		u.logins = append(u.logins, loginRecord{
			At:      now.Add(-time.Duration(i)*seedSpacing - hour),
			IP:      HomeIP,
			Device:  HomeDevice,
			Lat:     &lat,
			Lon:     &lon,
			Level:   "low",
			Success: true,
		})
	}
	u.logins = append(u.logins, loginRecord{
		At:      now.Add(-seedRecentAt),
		IP:      HomeIP,
		Device:  HomeDevice,
		Lat:     &lat,
		Lon:     &lon,
		Level:   "low",
		Success: true,
	})
	u.trusted[HomeDevice] = true
	return seedLogins + 1
}
