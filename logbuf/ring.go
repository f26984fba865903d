// Package logbuf keeps the most recent log lines in memory for the logs API.
package logbuf

import (
	"strings"
	"sync"
	"time"
)

const (
	MinSize      = 50
	DefaultLimit = 200
)

type Entry struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
}

// Ring is an io.Writer that retains the last Size lines written to it.
// Tee the standard logger into it with io.MultiWriter.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	partial strings.Builder
	now     func() time.Time
}

func New(size int) *Ring {
	if size < MinSize {
		size = MinSize
	}
	return &Ring{entries: make([]Entry, size), now: time.Now}
}

func (r *Ring) Size() int { return len(r.entries) }

func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial.Write(p)
	buf := r.partial.String()
	for {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimRight(buf[:i], "\r"); line != "" {
			r.add(line)
		}
		buf = buf[i+1:]
	}
	r.partial.Reset()
	r.partial.WriteString(buf)
	return len(p), nil
}

func (r *Ring) add(line string) {
	r.entries[r.next] = Entry{Time: r.now().UTC(), Message: line}
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns up to limit entries, newest first. A limit outside
// [1, Size] is clamped; zero means DefaultLimit.
func (r *Ring) Lines(limit int) []Entry {
	if limit == 0 {
		limit = DefaultLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.entries)
	}
	limit = max(1, min(limit, len(r.entries)))
	if limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
