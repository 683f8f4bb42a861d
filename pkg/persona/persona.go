// Package persona loads the opaque persona text bundles spec.md §6
// describes ("Persona bundles (external): opaque text blobs keyed by
// role; the supervisor loads them at job execution time"). The core never
// interprets bundle contents beyond the role's declared schema name, so a
// bundle is read verbatim and handed to a Backend Adapter's Call as-is.
//
// Grounded on pkg/config/loader.go's directory-rooted, missing-is-not-an-error
// file convention: a persona file absent from PersonaDir resolves to an
// empty string rather than failing the job, since the mock adapter (and a
// misconfigured deployment generally) should still be able to run without a
// full persona bundle tree checked out.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// Loader reads <dir>/<role>.txt bundles, caching each role's contents after
// first read since persona text never changes for the lifetime of a process.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[models.Role]string
}

// NewLoader returns a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[models.Role]string)}
}

// Load implements pkg/supervisor.PersonaLoader, serving both the Supervisor
// and pkg/orchestrator's PM write call, which need a role's persona text at
// job execution time.
func (l *Loader) Load(role models.Role) (string, error) {
	l.mu.RLock()
	if text, ok := l.cache[role]; ok {
		l.mu.RUnlock()
		return text, nil
	}
	l.mu.RUnlock()

	path := filepath.Join(l.dir, string(role)+".txt")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.mu.Lock()
			l.cache[role] = ""
			l.mu.Unlock()
			return "", nil
		}
		return "", fmt.Errorf("read persona bundle %q: %w", path, err)
	}

	text := string(raw)
	l.mu.Lock()
	l.cache[role] = text
	l.mu.Unlock()
	return text, nil
}
