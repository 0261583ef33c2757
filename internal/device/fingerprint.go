// Package device derives a stable identifier for the machine the client runs on.
package device

import (
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes fingerprints so they never collide with other SHA1 UUIDs
// derived from the same host material.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/willfong/adaptive-auth/device"))

// machineIDPaths are tried in order; the first readable non-empty file wins.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
	"/sys/class/dmi/id/product_uuid",
}

// Source supplies the host material a fingerprint is built from.
type Source struct {
	ReadFile func(name string) ([]byte, error)
	Hostname func() (string, error)
	GOOS     string
	GOARCH   string
}

// HostSource reads from the running system.
func HostSource() Source {
	return Source{
		ReadFile: os.ReadFile,
		Hostname: os.Hostname,
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
	}
}

// Fingerprint returns override when set, otherwise the host fingerprint.
func Fingerprint(override string) string {
	if o := strings.TrimSpace(override); o != "" {
		return o
	}
	return HostSource().Fingerprint()
}

// Fingerprint hashes the source's material into a name-based UUID. The same
// host yields the same value across runs.
func (s Source) Fingerprint() string {
	parts := []string{s.machineID(), s.hostname(), s.GOOS, s.GOARCH}
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "|"))).String()
}

func (s Source) machineID() string {
	if s.ReadFile == nil {
		return ""
	}
	for _, p := range machineIDPaths {
		b, err := s.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}
	return ""
}

func (s Source) hostname() string {
	if s.Hostname == nil {
		return ""
	}
	h, err := s.Hostname()
	if err != nil {
		return ""
	}
	return strings.ToLower(h)
}
