package dispatch

import (
	"sync"
	"time"
)

// LogEntry is one line of the node's in-memory activity log.
type LogEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	TaskID string    `json:"task_id,omitempty"`
	Detail string    `json:"detail"`
}

// MessageLog is a capped in-memory activity log. When the cap is exceeded
// the oldest half is dropped in one cut, keeping appends cheap.
type MessageLog struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry
}

func NewMessageLog(max int) *MessageLog {
	if max < 2 {
		max = 2
	}
	return &MessageLog{max: max}
}

func (l *MessageLog) Append(kind, taskID, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{
		At:     time.Now().UTC(),
		Kind:   kind,
		TaskID: taskID,
		Detail: detail,
	})
	if len(l.entries) > l.max {
		keep := l.entries[len(l.entries)-l.max/2:]
		l.entries = append(make([]LogEntry, 0, l.max), keep...)
	}
}

// Recent returns up to n entries, newest last. n <= 0 returns everything.
func (l *MessageLog) Recent(n int) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]LogEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Len reports the current entry count.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
