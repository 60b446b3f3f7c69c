package registry

import (
	"sort"
	"sync"
)

type memoryRegistry struct {
	conns map[string]map[string]Conn
	mu    sync.RWMutex
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{
		conns: make(map[string]map[string]Conn),
	}
}

func (r *memoryRegistry) Add(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]Conn)
		r.conns[userID] = set
	}
	set[conn.ID()] = conn
	return !ok
}

func (r *memoryRegistry) Remove(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, held := set[conn.ID()]; !held {
		return false
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

func (r *memoryRegistry) Connections(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *memoryRegistry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

func (r *memoryRegistry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

func (r *memoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}
