// Package registry tracks the client-assigned identifiers of one session:
// data definitions, pending requests, event mappings and the object handles
// the host assigned.
//
// A Registry belongs to exactly one session; there is no process-wide state.
// Every lookup is a map access under one mutex.
package registry

import (
	"fmt"
	"sync"
	"time"

	"simlink/codec"
	"simlink/protocol"
)

// Definition is a registered data definition. Fields are in declared order.
type Definition struct {
	ID     uint32
	Fields []codec.Field
}

// EventMapping binds a client event ID to a host event name. System marks a
// binding made by a system event subscription, which cannot be transmitted.
type EventMapping struct {
	ClientEventID uint32
	Name          string
	System        bool
}

// ObjectHandle is a host-assigned object ID, with the request that created
// it when there was one.
type ObjectHandle struct {
	ObjectID  uint32 `json:"object_id" yaml:"object_id"`
	RequestID uint32 `json:"request_id" yaml:"request_id"`
}

// Registry is the session-scoped identifier arena.
type Registry struct {
	mu          sync.Mutex
	definitions map[uint32]Definition
	pending     map[uint32]*Pending
	events      map[uint32]EventMapping
	objects     map[uint32]ObjectHandle
}

func New() *Registry {
	return &Registry{
		definitions: make(map[uint32]Definition),
		pending:     make(map[uint32]*Pending),
		events:      make(map[uint32]EventMapping),
		objects:     make(map[uint32]ObjectHandle),
	}
}

// BindDefinition records a definition. Binding the same ID again with the
// same fields reports existed=true and changes nothing; different fields
// fail with ErrDuplicateIdentifier.
func (r *Registry) BindDefinition(id uint32, fields []codec.Field) (existed bool, err error) {
	if err := ValidateFields(id, fields); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.definitions[id]; ok {
		if codec.SameFields(cur.Fields, fields) {
			return true, nil
		}
		return true, fmt.Errorf("%w: definition %d already bound to a different field list", protocol.ErrDuplicateIdentifier, id)
	}
	r.definitions[id] = Definition{ID: id, Fields: append([]codec.Field(nil), fields...)}
	return false, nil
}

// ValidateFields checks a field list before it is sent to the host.
func ValidateFields(id uint32, fields []codec.Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("registry: definition %d has no fields", id)
	}
	for i, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("registry: definition %d field %d has no name", id, i)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("registry: definition %d field %d (%s): invalid data type", id, i, f.Name)
		}
		if len(f.Name) > codec.MaxStringLen || len(f.Unit) > codec.MaxStringLen {
			return fmt.Errorf("registry: definition %d field %d: %w", id, i, codec.ErrStringTooLong)
		}
	}
	return nil
}

// Definition returns the definition bound to id.
func (r *Registry) Definition(id uint32) (Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.definitions[id]
	return d, ok
}

// ClearDefinition unbinds id. It reports whether anything was bound.
func (r *Registry) ClearDefinition(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.definitions[id]
	delete(r.definitions, id)
	return ok
}

// BindEvent maps a client event ID, as a system event subscription when
// system is set. Re-binding the same name the same way is a no-op
// (existed=true); anything else fails with ErrDuplicateIdentifier.
func (r *Registry) BindEvent(id uint32, name string, system bool) (existed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.events[id]; ok {
		if cur.Name == name && cur.System == system {
			return true, nil
		}
		return true, fmt.Errorf("%w: event %d already bound to %q", protocol.ErrDuplicateIdentifier, id, cur.Name)
	}
	r.events[id] = EventMapping{ClientEventID: id, Name: name, System: system}
	return false, nil
}

// UnbindEvent forgets a mapping, used when the mapping frame could not be sent.
func (r *Registry) UnbindEvent(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, id)
}

func (r *Registry) Event(id uint32) (EventMapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	return e, ok
}

// TrackObject remembers an object handle the host assigned.
func (r *Registry) TrackObject(h ObjectHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[h.ObjectID] = h
}

// ReleaseObject forgets an object handle.
func (r *Registry) ReleaseObject(objectID uint32) (ObjectHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.objects[objectID]
	delete(r.objects, objectID)
	return h, ok
}

func (r *Registry) Object(objectID uint32) (ObjectHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.objects[objectID]
	return h, ok
}

// Objects returns every tracked handle.
func (r *Registry) Objects() []ObjectHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ObjectHandle, 0, len(r.objects))
	for _, h := range r.objects {
		out = append(out, h)
	}
	return out
}

// AddPending registers p under its request ID. An ID that is already pending
// fails with ErrDuplicateIdentifier; the existing entry is untouched.
func (r *Registry) AddPending(p *Pending) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[p.RequestID]; ok {
		return fmt.Errorf("%w: request %d is already pending", protocol.ErrDuplicateIdentifier, p.RequestID)
	}
	r.pending[p.RequestID] = p
	return nil
}

// TakePending removes and returns the entry for requestID. It is the only
// way a reply reaches a pending request, so each entry settles at most once.
func (r *Registry) TakePending(requestID uint32) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	return p, ok
}

// DropPending removes the entry for requestID only if it is still p, so an
// abandoning caller never evicts a newer request that reused the ID.
func (r *Registry) DropPending(p *Pending) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[p.RequestID]; ok && cur == p {
		delete(r.pending, p.RequestID)
		return true
	}
	return false
}

// HasPending reports whether requestID is outstanding.
func (r *Registry) HasPending(requestID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[requestID]
	return ok
}

// PendingCount returns the number of outstanding requests.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// DrainPending empties the pending table and returns what was in it, for
// bulk rejection at teardown.
func (r *Registry) DrainPending() []*Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pending, 0, len(r.pending))
	for id, p := range r.pending {
		out = append(out, p)
		delete(r.pending, id)
	}
	return out
}

// PendingKind is the reply shape a pending request expects.
type PendingKind uint8

const (
	PendingData PendingKind = iota + 1
	PendingObject
)

func (k PendingKind) String() string {
	switch k {
	case PendingData:
		return "data"
	case PendingObject:
		return "object"
	}
	return "unknown"
}

// Result is what a pending request settles with.
type Result struct {
	Record codec.Record
	Object ObjectHandle
	Err    error
}

// Pending is one outstanding request. Its decode schema is fixed when it is
// created.
type Pending struct {
	RequestID  uint32
	Kind       PendingKind
	Definition Definition
	Started    time.Time

	once sync.Once
	done chan Result
}

// NewPending creates an unsettled pending request.
func NewPending(requestID uint32, kind PendingKind, def Definition) *Pending {
	return &Pending{
		RequestID:  requestID,
		Kind:       kind,
		Definition: def,
		Started:    time.Now(),
		done:       make(chan Result, 1),
	}
}

// Settle delivers res. Only the first call has any effect; it reports
// whether this call was the one that settled p.
func (p *Pending) Settle(res Result) bool {
	settled := false
	p.once.Do(func() {
		p.done <- res
		settled = true
	})
	return settled
}

// Fail settles p with err.
func (p *Pending) Fail(err error) bool {
	return p.Settle(Result{Err: err})
}

// Done yields the single Result once p settles.
func (p *Pending) Done() <-chan Result {
	return p.done
}
