package comment

import "sync"

// DefaultBookSize bounds the number of comments a StatusBook remembers.
const DefaultBookSize = 4096

// StatusBook records the latest known status of recently seen comments. It
// stands in for the blog database when a queued mail re-checks whether its
// comment is still approved. The oldest entries are forgotten first.
type StatusBook struct {
	mu     sync.Mutex
	status map[int64]Status
	order  []int64
	limit  int
}

// NewStatusBook returns an empty book holding at most limit comments. A
// limit below 1 selects DefaultBookSize.
func NewStatusBook(limit int) *StatusBook {
	if limit < 1 {
		limit = DefaultBookSize
	}
	return &StatusBook{
		status: make(map[int64]Status),
		limit:  limit,
	}
}

// Set records s as the status of comment id.
func (b *StatusBook) Set(id int64, s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.status[id]; !ok {
		if len(b.order) >= b.limit {
			oldest := b.order[0]
			b.order = b.order[1:]
			delete(b.status, oldest)
		}
		b.order = append(b.order, id)
	}
	b.status[id] = s
}

// Get returns the recorded status of comment id.
func (b *StatusBook) Get(id int64) (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.status[id]
	return s, ok
}

// Len returns the number of comments recorded.
func (b *StatusBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.status)
}
