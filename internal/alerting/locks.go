package alerting

import (
	"sync"
)

// ruleLocks serializes firing decisions per rule so two concurrent
// events can never both pass the cooldown gate for the same rule.
// Entries live for the process lifetime; tenants hold at most a
// handful of rules each.
type ruleLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRuleLocks() *ruleLocks {
	return &ruleLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// lock acquires the mutex for the given rule ID and returns its
// unlock function.
func (l *ruleLocks) lock(ruleID string) func() {
	l.mu.Lock()
	m, ok := l.locks[ruleID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[ruleID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
