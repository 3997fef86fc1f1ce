package vectorstore

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// idLedger tracks chunk id to document id ownership alongside a chromem
// database. chromem does not expose an id listing, and the alignment
// auditor needs one to diff the vector side against committed metadata.
// The ledger is persisted with gob and rewritten atomically on every
// mutation, the same way chromem persists its own collections.
type idLedger struct {
	mu   sync.Mutex
	path string
	ids  map[string]string // chunk id -> document id
}

func newIDLedger(path string) (*idLedger, error) {
	l := &idLedger{
		path: path,
		ids:  make(map[string]string),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *idLedger) load() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&l.ids); err != nil {
		return fmt.Errorf("decoding ledger: %w", err)
	}
	return nil
}

// persist writes the ledger via a temp file and rename so a crash mid-write
// never leaves a truncated ledger behind. Caller must hold l.mu.
func (l *idLedger) persist() error {
	tmpPath := l.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating ledger temp file: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(l.ids); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing ledger temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming ledger: %w", err)
	}
	return nil
}

func (l *idLedger) add(points []Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range points {
		l.ids[p.ChunkID] = p.DocumentID
	}
	return l.persist()
}

func (l *idLedger) remove(chunkIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range chunkIDs {
		delete(l.ids, id)
	}
	return l.persist()
}

// removeByDocument deletes all ledger entries owned by a document and
// returns the removed chunk ids.
func (l *idLedger) removeByDocument(documentID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []string
	for id, doc := range l.ids {
		if doc == documentID {
			removed = append(removed, id)
			delete(l.ids, id)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)
	return removed, l.persist()
}

func (l *idLedger) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *idLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// ledgerPath places the ledger file next to the chromem data directory.
func ledgerPath(dir, collection string) string {
	return filepath.Join(dir, collection+".ledger")
}
