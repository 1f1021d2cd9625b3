package services

import (
	"strings"
	"sync"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
)

// DedupStore remembers processed files by id and by case-folded name.
// Sets only grow for the lifetime of the process.
type DedupStore struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	names map[string]struct{}
}

func NewDedupStore() *DedupStore {
	return &DedupStore{
		ids:   make(map[string]struct{}),
		names: make(map[string]struct{}),
	}
}

func dedupName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Hydrate marks every ledger entry as processed.
func (d *DedupStore) Hydrate(entries []models.LedgerEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		d.markLocked(e.FileID, e.FileName)
	}
}

// Contains reports whether id or name has been seen.
func (d *DedupStore) Contains(id, name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id != "" {
		if _, ok := d.ids[id]; ok {
			return true
		}
	}
	if n := dedupName(name); n != "" {
		if _, ok := d.names[n]; ok {
			return true
		}
	}
	return false
}

// Mark records id and name as processed.
func (d *DedupStore) Mark(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markLocked(id, name)
}

func (d *DedupStore) markLocked(id, name string) {
	if id != "" {
		d.ids[id] = struct{}{}
	}
	if n := dedupName(name); n != "" {
		d.names[n] = struct{}{}
	}
}

// Size returns the number of distinct ids seen.
func (d *DedupStore) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}
