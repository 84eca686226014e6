package dispatch

import (
	"sync"

	"github.com/danmuck/spectre/internal/variant"
)

// Entry is one served call. ID is zero when the payload names no object.
type Entry struct {
	Seq  uint64           `json:"seq"`
	Tag  Tag              `json:"tag"`
	ID   variant.ObjectID `json:"id"`
	Code string           `json:"code,omitempty"`
}

// Log keeps the most recent served calls of one participant. A zero limit
// keeps everything.
type Log struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
	total   uint64
}

func NewLog(limit int) *Log {
	return &Log{limit: limit}
}

func (l *Log) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	l.entries = append(l.entries, e)
	if l.limit > 0 && len(l.entries) > l.limit {
		l.entries = append(l.entries[:0], l.entries[len(l.entries)-l.limit:]...)
	}
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Total counts every call recorded, including ones trimmed away.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
