package session

import (
	"sync"
	"time"

	"github.com/huddlekit/huddle/internal/domain"
)

// Entry is one transcribed utterance.
type Entry struct {
	UserID    domain.UserID
	UserName  string
	Text      string
	Timestamp time.Time
}

// TranscriptLog is the append-only record of transcriptions received
// during the session. Entries arrive in hub order and are never
// rewritten.
type TranscriptLog struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewTranscriptLog() *TranscriptLog { return &TranscriptLog{} }

func (t *TranscriptLog) Append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

func (t *TranscriptLog) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of the log in arrival order.
func (t *TranscriptLog) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
