// Package syncable defines the synchronization contract for simulation state.
// A Syncable knows how to serialize itself into a sync buffer and reconstruct
// itself from one; the Registry maps domain identifiers to Syncables and
// enforces the latest-write-wins rule when applying received state.
//
// The Registry is owned by the simulation goroutine and is not synchronized.
// Network goroutines never touch it directly; they hand decoded payloads to
// the simulation goroutine through a handoff queue.
package syncable

import (
	"errors"
	"fmt"

	"github.com/lockstep/lockstep/internal/syncbuf"
)

// Common errors returned by the syncable package.
var (
	ErrDuplicateID     = errors.New("syncable id already registered")
	ErrUnknownSyncable = errors.New("unknown syncable id")
)

// Syncable is any state unit participating in synchronization. Encode writes
// the full current state; Decode reconstructs and applies state produced by a
// matching Encode. The registry never owns simulation semantics, only the
// synchronization hook.
type Syncable interface {
	Encode(buf *syncbuf.Buffer)
	Decode(buf *syncbuf.Buffer) error
}

// Update is one encoded state unit collected at a synchronization point.
type Update struct {
	ID      uint32
	Content []byte
}

type entry struct {
	syncable    Syncable
	dirty       bool
	lastApplied float64
	everApplied bool
}

// Registry holds syncables by identifier and tracks per-identifier dirtiness
// and the timestamp of the last applied update.
type Registry struct {
	entries map[uint32]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint32]*entry)}
}

// Register adds a syncable under the given identifier.
func (r *Registry) Register(id uint32, s Syncable) error {
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	r.entries[id] = &entry{syncable: s}
	return nil
}

// Unregister removes a syncable. Unknown identifiers are ignored.
func (r *Registry) Unregister(id uint32) {
	delete(r.entries, id)
}

// MarkDirty flags a syncable for collection at the next synchronization point.
func (r *Registry) MarkDirty(id uint32) {
	if e, ok := r.entries[id]; ok {
		e.dirty = true
	}
}

// CollectDirty encodes every dirty syncable and clears its dirty flag. Called
// on the host once per synchronization point.
func (r *Registry) CollectDirty() []Update {
	var updates []Update
	for id, e := range r.entries {
		if !e.dirty {
			continue
		}
		buf := syncbuf.New()
		e.syncable.Encode(buf)
		updates = append(updates, Update{ID: id, Content: buf.Bytes()})
		e.dirty = false
	}
	return updates
}

// Apply decodes content into the syncable registered under id, but only when
// timestamp is strictly newer than the last applied timestamp for that id.
// It returns false with a nil error when the update is stale and dropped.
func (r *Registry) Apply(id uint32, timestamp float64, content []byte) (bool, error) {
	e, ok := r.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownSyncable, id)
	}

	if e.everApplied && timestamp <= e.lastApplied {
		return false, nil
	}

	if err := e.syncable.Decode(syncbuf.FromBytes(content)); err != nil {
		return false, fmt.Errorf("failed to decode syncable %d: %w", id, err)
	}

	e.lastApplied = timestamp
	e.everApplied = true
	return true, nil
}

// LastApplied returns the timestamp of the last applied update for id. ok is
// false when no update has been applied yet.
func (r *Registry) LastApplied(id uint32) (float64, bool) {
	e, exists := r.entries[id]
	if !exists || !e.everApplied {
		return 0, false
	}
	return e.lastApplied, true
}

// Len returns the number of registered syncables.
func (r *Registry) Len() int {
	return len(r.entries)
}
