package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]Patient, error)
}
