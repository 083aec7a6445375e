// Package remotetest provides an in-memory remote.Session for tests.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
)

// MemorySession serves a tree of files held in memory. Directories exist
// implicitly for every file path prefix and can also be added empty.
type MemorySession struct {
	mu        sync.Mutex
	files     map[string][]byte
	dirs      map[string]struct{}
	failRetr  map[string]error
	Retrieved []string
	Quits     int
}

func NewMemorySession() *MemorySession {
	return &MemorySession{
		files:    make(map[string][]byte),
		dirs:     map[string]struct{}{"/": {}},
		failRetr: make(map[string]error),
	}
}

// AddFile stores data at the absolute path p and creates its parents.
func (m *MemorySession) AddFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean("/" + p)
	m.files[p] = data
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		m.dirs[dir] = struct{}{}
		if dir == "/" {
			break
		}
	}
}

// AddDir creates an empty directory and its parents.
func (m *MemorySession) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for dir := path.Clean("/" + p); ; dir = path.Dir(dir) {
		m.dirs[dir] = struct{}{}
		if dir == "/" {
			break
		}
	}
}

// FailRetrieve makes every Retrieve of p return err.
func (m *MemorySession) FailRetrieve(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRetr[path.Clean("/"+p)] = err
}

func (m *MemorySession) NameList(dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir = path.Clean("/" + dir)
	if _, ok := m.dirs[dir]; !ok {
		return nil, apperr.Newf(apperr.KindTransfer, "nlst", dir, "550 no such directory")
	}

	seen := make(map[string]struct{})
	collect := func(p string) {
		if p == dir || path.Dir(p) != dir {
			return
		}
		seen[path.Base(p)] = struct{}{}
	}
	for p := range m.files {
		collect(p)
	}
	for p := range m.dirs {
		collect(p)
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemorySession) IsDir(dir string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.dirs[path.Clean("/"+dir)]
	return ok, nil
}

func (m *MemorySession) Retrieve(ctx context.Context, file string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	file = path.Clean("/" + file)
	data, ok := m.files[file]
	failErr := m.failRetr[file]
	m.Retrieved = append(m.Retrieved, file)
	m.mu.Unlock()

	if failErr != nil {
		return apperr.New(apperr.KindTransfer, "retr", file, failErr)
	}
	if !ok {
		return apperr.Newf(apperr.KindTransfer, "retr", file, "550 file not found")
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (m *MemorySession) Quit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Quits++
	return nil
}

// RetrievedUnder returns retrieved paths with the given prefix.
func (m *MemorySession) RetrievedUnder(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, p := range m.Retrieved {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func (m *MemorySession) String() string {
	return fmt.Sprintf("MemorySession(%d files, %d dirs)", len(m.files), len(m.dirs))
}
