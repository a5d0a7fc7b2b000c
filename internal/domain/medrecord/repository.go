package medrecord

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists the four append-only clinical entities. There are no
// update methods on purpose; the CreatedSince queries back the server delta
// provider, where creation time is the only timestamp these rows have.
type Repository interface {
	CreateRecord(ctx context.Context, r *MedicalRecord) error
	CreateDentalChart(ctx context.Context, d *DentalChart) error
	CreatePrenatalVisit(ctx context.Context, v *PrenatalVisit) error
	CreateOphthalmicExam(ctx context.Context, e *OphthalmicExam) error

	RecordsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]MedicalRecord, error)
	DentalChartsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]DentalChart, error)
	PrenatalVisitsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]PrenatalVisit, error)
	OphthalmicExamsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]OphthalmicExam, error)
}
