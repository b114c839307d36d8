// Package clientreg is the connection registry backing CLIENT LIST/GETNAME/
// SETNAME/KILL. Grounded on the teacher's use of github.com/google/uuid for
// opaque identifiers, and on spec §9's design note that KILL needs a
// connection-id-keyed map rather than holding references to goroutines
// directly (avoiding the cyclic reference between a connection and its
// registry entry).
package clientreg

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Info is a point-in-time snapshot of one connection's state, safe to hand
// out to CLIENT LIST callers without holding the registry lock.
type Info struct {
	ID         string
	Addr       string
	Name       string
	CreatedAt  time.Time
	LastCmd    string
	LastCmdAt  time.Time
}

// entry is the live, mutable record; Info snapshots are copied out of it.
type entry struct {
	id        string
	addr      string
	name      string
	createdAt time.Time
	lastCmd   string
	lastCmdAt time.Time
	kill      chan struct{}
}

// Registry is a concurrent map behind a single lock, released across awaits
// per spec §5's "no reads/writes to in-process data structures require
// locking for correctness" rule — the lock here is only ever held for the
// duration of a map operation, never across a socket or store call.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register allocates a new connection id for conn and returns it along with
// a channel that is closed when this connection is the target of CLIENT
// KILL. Callers must Unregister when the connection closes.
func (r *Registry) Register(conn net.Conn) (id string, killed <-chan struct{}) {
	id = uuid.NewString()
	e := &entry{
		id:        id,
		addr:      conn.RemoteAddr().String(),
		createdAt: time.Now(),
		kill:      make(chan struct{}),
	}
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return id, e.kill
}

// Unregister removes a connection's entry. Safe to call more than once.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// SetName implements CLIENT SETNAME for id.
func (r *Registry) SetName(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.name = name
	}
}

// Name implements CLIENT GETNAME for id.
func (r *Registry) Name(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.name
	}
	return ""
}

// RecordCommand updates the last-command bookkeeping shown by CLIENT LIST.
func (r *Registry) RecordCommand(id, cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.lastCmd = cmd
		e.lastCmdAt = time.Now()
	}
}

// List implements CLIENT LIST: a snapshot of every registered connection.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			ID:        e.id,
			Addr:      e.addr,
			Name:      e.name,
			CreatedAt: e.createdAt,
			LastCmd:   e.lastCmd,
			LastCmdAt: e.lastCmdAt,
		})
	}
	return out
}

// Kill implements CLIENT KILL by connection id: closing the target's kill
// channel is a single-shot signal its read loop observes and exits on (spec
// §5's "per-client KILL sends a single-shot signal to the target task,
// short-circuiting its read loop"). Returns false if id isn't registered.
func (r *Registry) Kill(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-e.kill:
		// already killed
	default:
		close(e.kill)
	}
	return true
}

// KillByAddr implements CLIENT KILL ADDR host:port, killing every connection
// whose remote address matches.
func (r *Registry) KillByAddr(addr string) int {
	r.mu.Lock()
	var targets []*entry
	for _, e := range r.entries {
		if e.addr == addr {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()

	for _, e := range targets {
		select {
		case <-e.kill:
		default:
			close(e.kill)
		}
	}
	return len(targets)
}
