package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal records order lifecycle events for offline inspection.
// Implementations never fail the caller; a journal that cannot write
// simply drops the entry.
type Journal interface {
	Record(event string, fields map[string]interface{})
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                          { return &NopJournal{} }
func (*NopJournal) Record(string, map[string]interface{}) {}
func (*NopJournal) Close() error                          { return nil }

// FileJournal appends one JSON object per line.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Record(event string, fields map[string]interface{}) {
	entry := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().Format(time.RFC3339)
	entry["event"] = event

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintf(j.f, "%s\n", data)
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
