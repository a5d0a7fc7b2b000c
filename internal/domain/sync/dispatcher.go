package sync

import (
	"context"
	"errors"
	"fmt"

	"clinisync/internal/app/server/api/http/middleware/auth"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// dispatcher routes one operation at a time to the mapping store, the
// conflict resolver and the entity handler. It is shared verbatim by the
// request path and the background worker.
type dispatcher struct {
	repo     Repository
	registry *Registry
	cache    *mappingCache
	log      *slog.Logger
}

// batchRun is the state of one batch's processing: the authenticated actor
// plus an in-batch overlay of mappings created so far. The overlay gives
// read-after-write consistency, so an operation may reference an id created
// earlier in the same batch before anything is committed to the cache.
type batchRun struct {
	d        *dispatcher
	actor    auth.Actor
	deviceID string
	overlay  map[string]uuid.UUID
}

func (d *dispatcher) newRun(actor auth.Actor, deviceID string) *batchRun {
	return &batchRun{
		d:        d,
		actor:    actor,
		deviceID: deviceID,
		overlay:  make(map[string]uuid.UUID),
	}
}

// process executes a single operation. Exactly one of the returns is
// non-nil: an applied outcome, a conflict outcome, or an error to be
// recorded at the per-operation boundary. Errors never abort the batch.
func (r *batchRun) process(ctx context.Context, op Operation) (*Applied, *Conflict, error) {
	handler, ok := r.d.registry.Lookup(op.Entity)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported entity type %q", op.Entity)
	}

	switch op.Action {
	case ActionCreate:
		return r.handleCreate(ctx, handler, op)
	case ActionUpdate:
		return r.handleUpdate(ctx, handler, op)
	default:
		return nil, nil, fmt.Errorf("unsupported action %q", op.Action)
	}
}

func (r *batchRun) handleCreate(ctx context.Context, h EntityHandler, op Operation) (*Applied, *Conflict, error) {
	// Replay detection: an existing mapping means this create was already
	// applied on a previous submission.
	serverID, err := r.lookupMapping(ctx, op.Entity, op.LocalID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup mapping: %w", err)
	}
	if serverID != uuid.Nil {
		return &Applied{
			LocalID:  op.LocalID,
			ServerID: serverID.String(),
			Entity:   op.Entity,
			Action:   ActionCreate,
			Status:   "already_applied",
		}, nil, nil
	}

	// The entity row and its mapping commit together. Without that, a
	// mapping insert failing after the entity write would leave an unmapped
	// row behind, and the device's retry would pass the replay check and
	// create a duplicate.
	err = r.d.repo.WithTx(ctx, func(ctx context.Context) error {
		var cerr error
		serverID, cerr = h.Create(ctx, r.actor, op.Data, r)
		if cerr != nil {
			return cerr
		}

		mapping := &Mapping{
			ClinicID: r.actor.ClinicID,
			DeviceID: r.deviceID,
			Entity:   op.Entity,
			LocalID:  op.LocalID,
			ServerID: serverID,
		}
		if merr := r.d.repo.RecordMapping(ctx, mapping); merr != nil {
			return fmt.Errorf("record mapping: %w", merr)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	key := cacheKey(r.actor.ClinicID, r.deviceID, op.Entity, op.LocalID)
	r.overlay[key] = serverID
	r.d.cache.put(key, serverID)

	return &Applied{
		LocalID:  op.LocalID,
		ServerID: serverID.String(),
		Entity:   op.Entity,
		Action:   ActionCreate,
		Status:   "applied",
	}, nil, nil
}

func (r *batchRun) handleUpdate(ctx context.Context, h EntityHandler, op Operation) (*Applied, *Conflict, error) {
	// Append-only types register plain EntityHandlers; only mutable
	// handlers carry an update capability.
	mh, ok := h.(MutableHandler)
	if !ok {
		return nil, &Conflict{
			LocalID: op.LocalID,
			Entity:  op.Entity,
			Action:  ActionUpdate,
			Status:  "conflict",
			Reason:  ReasonImmutable,
		}, nil
	}

	serverID, err := r.resolveServerID(ctx, op.Entity, op.LocalID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve server id: %w", err)
	}
	if serverID == uuid.Nil {
		return nil, r.targetNotFound(op), nil
	}

	// The Get below is clinic-scoped, which doubles as the ownership check
	// for local ids that parsed directly as server ids.
	rec, err := mh.Get(ctx, r.actor.ClinicID, serverID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, r.targetNotFound(op), nil
		}
		return nil, nil, err
	}

	// Last-write-wins: a strictly newer server version rejects the stale
	// write and ships the current state back instead.
	if rec.ModifiedTime().After(op.Timestamp) {
		snapshot, serr := mh.Snapshot(rec)
		if serr != nil {
			r.d.log.Warn("failed to snapshot server version",
				"entity", op.Entity, "server_id", serverID, "error", serr)
		}
		return nil, &Conflict{
			LocalID:       op.LocalID,
			Entity:        op.Entity,
			Action:        ActionUpdate,
			Status:        "conflict",
			Reason:        ReasonStaleWrite,
			ServerVersion: snapshot,
		}, nil
	}

	if err := mh.Update(ctx, r.actor, rec, op.Data, op.Timestamp); err != nil {
		return nil, nil, err
	}

	return &Applied{
		LocalID:  op.LocalID,
		ServerID: serverID.String(),
		Entity:   op.Entity,
		Action:   ActionUpdate,
		Status:   "applied",
	}, nil, nil
}

func (r *batchRun) targetNotFound(op Operation) *Conflict {
	return &Conflict{
		LocalID: op.LocalID,
		Entity:  op.Entity,
		Action:  ActionUpdate,
		Status:  "conflict",
		Reason:  ReasonTargetNotFound,
	}
}

// resolveServerID maps a local id to a server id: mapping store first, then
// the fallback of parsing the local id as a server id, which supports
// records the device fetched while online. Returns uuid.Nil when
// unresolved.
func (r *batchRun) resolveServerID(ctx context.Context, entity EntityType, localID string) (uuid.UUID, error) {
	serverID, err := r.lookupMapping(ctx, entity, localID)
	if err != nil {
		return uuid.Nil, err
	}
	if serverID != uuid.Nil {
		return serverID, nil
	}

	if parsed, perr := uuid.Parse(localID); perr == nil {
		return parsed, nil
	}
	return uuid.Nil, nil
}

// lookupMapping checks the in-batch overlay, then the TTL cache, then the
// mapping store. Returns uuid.Nil without error when no mapping exists.
func (r *batchRun) lookupMapping(ctx context.Context, entity EntityType, localID string) (uuid.UUID, error) {
	key := cacheKey(r.actor.ClinicID, r.deviceID, entity, localID)

	if serverID, ok := r.overlay[key]; ok {
		return serverID, nil
	}
	if serverID, ok := r.d.cache.get(key); ok {
		return serverID, nil
	}

	mapping, err := r.d.repo.GetMapping(ctx, r.actor.ClinicID, r.deviceID, entity, localID)
	if err != nil {
		return uuid.Nil, err
	}
	if mapping == nil {
		return uuid.Nil, nil
	}

	r.d.cache.put(key, mapping.ServerID)
	return mapping.ServerID, nil
}

// ResolveRef implements RefResolver for entity handlers: payload references
// resolve through the same mapping chain as update targets, and fall back
// to treating the reference as a server id.
func (r *batchRun) ResolveRef(ctx context.Context, entity EntityType, id string) (uuid.UUID, error) {
	serverID, err := r.resolveServerID(ctx, entity, id)
	if err != nil {
		return uuid.Nil, err
	}
	if serverID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: unresolved %s reference %q", ErrNotFound, entity, id)
	}
	return serverID, nil
}

var _ RefResolver = (*batchRun)(nil)
