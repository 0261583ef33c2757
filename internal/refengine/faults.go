package refengine

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
)

// Gate holds one request to a path until released.
type Gate struct {
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

// Entered is closed once a request reaches the gate.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release lets the held request proceed.
func (g *Gate) Release() {
	g.releaseOnce.Do(func() { close(g.release) })
}

type stub struct {
	status int
	body   string
}

// Faults intercepts requests by path: holding them, replacing their
// responses, and counting them.
type Faults struct {
	mu    sync.Mutex
	gates map[string]*Gate
	stubs map[string]stub
	calls map[string]int
}

func newFaults() *Faults {
	return &Faults{
		gates: make(map[string]*Gate),
		stubs: make(map[string]stub),
		calls: make(map[string]int),
	}
}

// Block holds the next request to path until the returned gate is released.
func (f *Faults) Block(path string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.gates[path] = g
	f.mu.Unlock()
	return g
}

// Stub answers every request to path with a fixed status and raw body.
func (f *Faults) Stub(path string, status int, body string) {
	f.mu.Lock()
	f.stubs[path] = stub{status: status, body: body}
	f.mu.Unlock()
}

// Clear removes all stubs and pending gates.
func (f *Faults) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.gates {
		g.Release()
	}
	f.gates = make(map[string]*Gate)
	f.stubs = make(map[string]stub)
}

// Calls returns how many requests reached path.
func (f *Faults) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *Faults) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		f.mu.Lock()
		f.calls[path]++
		g := f.gates[path]
		delete(f.gates, path)
		st, stubbed := f.stubs[path]
		f.mu.Unlock()

		if g != nil {
			g.enterOnce.Do(func() { close(g.entered) })
			select {
			case <-g.release:
			case <-r.Context().Done():
				return
			}
		}
		if stubbed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(st.status)
			_, _ = w.Write([]byte(st.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (e *Engine) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		e.requests.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
	})
}
