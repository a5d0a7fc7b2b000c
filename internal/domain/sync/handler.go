package sync

import (
	"context"
	"encoding/json"
	"time"

	"clinisync/internal/app/server/api/http/middleware/auth"

	"github.com/google/uuid"
)

// Record is the server-side view of one syncable row, as much of it as the
// resolver needs: identity and the two timestamps last-write-wins compares.
type Record interface {
	ServerID() uuid.UUID
	CreatedTime() time.Time
	ModifiedTime() time.Time
}

// Delta is one changed row reported by a handler for the server delta
// provider. Data carries the snapshot with sensitive fields already
// decrypted for the requesting client.
type Delta struct {
	ServerID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      map[string]any
}

// RefResolver resolves an id reference inside an operation payload to a
// server id. Within a batch it sees mappings created by earlier operations
// of the same batch, so a created patient can be referenced by a later
// appointment.
type RefResolver interface {
	ResolveRef(ctx context.Context, entity EntityType, id string) (uuid.UUID, error)
}

// EntityHandler is the capability every syncable entity type exposes to
// the engine. Implementations decode the opaque payload into their typed
// structures, apply the sensitive-field transform, and write through their
// own repositories (which also feed the audit log). Append-only types
// implement exactly this interface and nothing more.
type EntityHandler interface {
	// Create inserts a new record and returns the server-assigned id.
	Create(ctx context.Context, actor auth.Actor, data json.RawMessage, refs RefResolver) (uuid.UUID, error)

	// ChangedSince returns records modified (or created, for append-only
	// types) after the checkpoint, bounded by limit.
	ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]Delta, error)
}

// MutableHandler extends EntityHandler for types whose records may be
// updated. The dispatcher's structural-immutability check is the type
// assertion against this interface: a handler that doesn't implement it
// rejects every update unconditionally.
type MutableHandler interface {
	EntityHandler

	// Get loads the current record scoped to the clinic; returns an error
	// wrapping ErrNotFound when the id does not exist for that tenant.
	Get(ctx context.Context, clinicID, serverID uuid.UUID) (Record, error)

	// Update applies the incoming fields to rec, excluding identity,
	// ownership and creation-time fields, and advances the record's
	// last-modified timestamp to ts.
	Update(ctx context.Context, actor auth.Actor, rec Record, data json.RawMessage, ts time.Time) error

	// Snapshot serializes rec for the client, decrypting sensitive fields.
	Snapshot(rec Record) (map[string]any, error)
}

// Registry is the closed table mapping entity types to their handlers.
type Registry struct {
	handlers map[EntityType]EntityHandler
	order    []EntityType
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[EntityType]EntityHandler)}
}

func (r *Registry) Register(entity EntityType, h EntityHandler) {
	if _, dup := r.handlers[entity]; !dup {
		r.order = append(r.order, entity)
	}
	r.handlers[entity] = h
}

func (r *Registry) Lookup(entity EntityType) (EntityHandler, bool) {
	h, ok := r.handlers[entity]
	return h, ok
}

// Types returns the registered entity types in registration order, so
// delta queries iterate deterministically.
func (r *Registry) Types() []EntityType {
	return r.order
}
