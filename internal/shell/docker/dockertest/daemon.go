// Package dockertest provides a fake Docker Engine API for tests.
package dockertest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// APIVersion is the version the fake daemon negotiates.
const APIVersion = "1.47"

var versionPrefix = regexp.MustCompile(`^/v[0-9.]+`)

// Daemon serves the subset of the Engine API the healer uses: ping,
// container list, inspect, remove and image prune. Bodies are raw JSON as
// the real daemon would send them.
type Daemon struct {
	// List is the body of GET /containers/json.
	List string

	// Inspect maps a container ID or name to the body of
	// GET /containers/{id}/json. Missing entries answer 404.
	Inspect map[string]string

	mu       sync.Mutex
	removed  []string
	requests []string
	server   *httptest.Server
}

// Start starts the daemon and stops it when the test ends.
func Start(t *testing.T, d *Daemon) *Daemon {
	t.Helper()
	t.Setenv("DOCKER_CERT_PATH", "")
	t.Setenv("DOCKER_API_VERSION", "")
	d.server = httptest.NewServer(d)
	t.Cleanup(d.server.Close)
	return d
}

// Host returns the daemon address in DOCKER_HOST form.
func (d *Daemon) Host() string {
	return "tcp://" + d.server.Listener.Addr().String()
}

// Removed returns the IDs of removed containers in order.
func (d *Daemon) Removed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.removed...)
}

// Requests returns "METHOD /path" for every request except pings.
func (d *Daemon) Requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

func (d *Daemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := versionPrefix.ReplaceAllString(r.URL.Path, "")
	w.Header().Set("API-Version", APIVersion)

	if path == "/_ping" {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "OK")
		return
	}

	d.mu.Lock()
	d.requests = append(d.requests, r.Method+" "+path)
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && path == "/containers/json":
		io.WriteString(w, orEmpty(d.List, "[]"))

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/containers/") && strings.HasSuffix(path, "/json"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/containers/"), "/json")
		body, ok := d.Inspect[id]
		if !ok {
			notFound(w, id)
			return
		}
		io.WriteString(w, body)

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/containers/"):
		id := strings.TrimPrefix(path, "/containers/")
		d.mu.Lock()
		d.removed = append(d.removed, id)
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && path == "/images/prune":
		io.WriteString(w, `{"ImagesDeleted":[{"Deleted":"sha256:dangling"}],"SpaceReclaimed":100}`)

	default:
		w.WriteHeader(http.StatusNotImplemented)
		io.WriteString(w, `{"message":"not implemented by fake daemon"}`)
	}
}

func notFound(w http.ResponseWriter, id string) {
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, `{"message":"No such container: `+id+`"}`)
}

func orEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
