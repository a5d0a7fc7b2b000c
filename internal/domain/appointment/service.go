package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinisync/internal/app/server/api/http/middleware/auth"
	"clinisync/internal/domain/sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// CreatePayload is the typed shape of a sync create operation. PatientID
// and DoctorID may be device-local ids; they are resolved through the
// batch's reference resolver, so an appointment can point at a patient
// created earlier in the same batch.
type CreatePayload struct {
	PatientID   string    `json:"patient_id"`
	DoctorID    string    `json:"doctor_id,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	ServiceType string    `json:"service_type,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

type UpdatePayload struct {
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	ServiceType *string    `json:"service_type,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "appointment_service"),
	}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, data json.RawMessage, refs sync.RefResolver) (uuid.UUID, error) {
	var payload CreatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode appointment payload: %w", err)
	}
	if payload.PatientID == "" {
		return uuid.Nil, fmt.Errorf("appointment requires patient_id")
	}
	if payload.StartTime.IsZero() || payload.EndTime.IsZero() {
		return uuid.Nil, fmt.Errorf("appointment requires start_time and end_time")
	}
	if !payload.EndTime.After(payload.StartTime) {
		return uuid.Nil, fmt.Errorf("appointment end_time must be after start_time")
	}

	patientID, err := refs.ResolveRef(ctx, sync.EntityPatient, payload.PatientID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve patient reference: %w", err)
	}

	// Offline bookings default to the submitting user as the doctor.
	doctorID := actor.UserID
	if payload.DoctorID != "" {
		if doctorID, err = uuid.Parse(payload.DoctorID); err != nil {
			return uuid.Nil, fmt.Errorf("invalid doctor_id: %w", err)
		}
	}

	serviceType := payload.ServiceType
	if serviceType == "" {
		serviceType = "consultation"
	}

	a := &Appointment{
		ID:          uuid.New(),
		ClinicID:    actor.ClinicID,
		PatientID:   patientID,
		DoctorID:    doctorID,
		StartTime:   payload.StartTime,
		EndTime:     payload.EndTime,
		Status:      StatusScheduled,
		ServiceType: serviceType,
		Notes:       payload.Notes,
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return uuid.Nil, fmt.Errorf("create appointment: %w", err)
	}
	return a.ID, nil
}

func (s *Service) Get(ctx context.Context, clinicID, serverID uuid.UUID) (sync.Record, error) {
	a, err := s.repo.Get(ctx, clinicID, serverID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("appointment %s: %w", serverID, sync.ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) Update(ctx context.Context, _ auth.Actor, rec sync.Record, data json.RawMessage, ts time.Time) error {
	a, ok := rec.(*Appointment)
	if !ok {
		return fmt.Errorf("unexpected record type %T", rec)
	}

	var payload UpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode appointment payload: %w", err)
	}

	if payload.StartTime != nil {
		a.StartTime = *payload.StartTime
	}
	if payload.EndTime != nil {
		a.EndTime = *payload.EndTime
	}
	if payload.Status != nil {
		a.Status = *payload.Status
	}
	if payload.ServiceType != nil {
		a.ServiceType = *payload.ServiceType
	}
	if payload.Notes != nil {
		a.Notes = *payload.Notes
	}
	a.UpdatedAt = ts

	if err := s.repo.Update(ctx, a); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (s *Service) Snapshot(rec sync.Record) (map[string]any, error) {
	a, ok := rec.(*Appointment)
	if !ok {
		return nil, fmt.Errorf("unexpected record type %T", rec)
	}
	return snapshot(a), nil
}

func (s *Service) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]sync.Delta, error) {
	appointments, err := s.repo.ChangedSince(ctx, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("changed appointments: %w", err)
	}

	deltas := make([]sync.Delta, 0, len(appointments))
	for i := range appointments {
		a := &appointments[i]
		deltas = append(deltas, sync.Delta{
			ServerID:  a.ID,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
			Data:      snapshot(a),
		})
	}
	return deltas, nil
}

func snapshot(a *Appointment) map[string]any {
	return map[string]any{
		"id":           a.ID.String(),
		"patient_id":   a.PatientID.String(),
		"doctor_id":    a.DoctorID.String(),
		"start_time":   a.StartTime,
		"end_time":     a.EndTime,
		"status":       string(a.Status),
		"service_type": a.ServiceType,
		"notes":        a.Notes,
		"updated_at":   a.UpdatedAt,
	}
}

var _ sync.MutableHandler = (*Service)(nil)
