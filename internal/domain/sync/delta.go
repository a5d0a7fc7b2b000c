package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// serverUpdates is the server delta provider: every record a clinic's
// devices changed after the checkpoint, across all syncable entity types,
// bounded per type and merged in ascending timestamp order so the client
// applies changes causally.
func (s *Service) serverUpdates(ctx context.Context, clinicID uuid.UUID, since time.Time) ([]ServerUpdate, error) {
	var updates []ServerUpdate

	for _, entity := range s.dispatcher.registry.Types() {
		handler, _ := s.dispatcher.registry.Lookup(entity)

		deltas, err := handler.ChangedSince(ctx, clinicID, since, s.config.DeltaLimit)
		if err != nil {
			return nil, fmt.Errorf("changes for %s: %w", entity, err)
		}

		for _, d := range deltas {
			// A record born after the checkpoint is a create from the
			// device's point of view, regardless of later edits.
			action := ActionUpdate
			if d.CreatedAt.After(since) {
				action = ActionCreate
			}
			updates = append(updates, ServerUpdate{
				Entity:    entity,
				ServerID:  d.ServerID.String(),
				Action:    action,
				Data:      d.Data,
				UpdatedAt: d.UpdatedAt,
			})
		}
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].UpdatedAt.Before(updates[j].UpdatedAt)
	})

	return updates, nil
}
