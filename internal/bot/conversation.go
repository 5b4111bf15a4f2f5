package bot

import (
	"sync"
	"time"
)

type convState int

const (
	convIdle convState = iota
	convAwaitCredential
	convAwaitSources
)

func (s convState) String() string {
	switch s {
	case convAwaitCredential:
		return "await_credential"
	case convAwaitSources:
		return "await_sources"
	default:
		return "idle"
	}
}

type convEntry struct {
	state convState
	exp   time.Time
}

// conversations remembers what each owner was last asked for. Entries
// expire so a forgotten prompt does not swallow later text.
type conversations struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[int64]convEntry
}

func newConversations(ttl time.Duration) *conversations {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &conversations{ttl: ttl, now: time.Now, m: map[int64]convEntry{}}
}

func (c *conversations) set(user int64, st convState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st == convIdle {
		delete(c.m, user)
		return
	}
	c.m[user] = convEntry{state: st, exp: c.now().Add(c.ttl)}
}

// take returns the pending state for user and resets it to idle.
func (c *conversations) take(user int64) convState {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[user]
	if !ok {
		return convIdle
	}
	delete(c.m, user)
	if c.now().After(e.exp) {
		return convIdle
	}
	return e.state
}

func (c *conversations) clear(user int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[user]
	delete(c.m, user)
	return ok
}
