package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinisync/internal/domain/appointment"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

type AppointmentRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewAppointmentRepository(pool *pgxpool.Pool, log *slog.Logger) *AppointmentRepository {
	return &AppointmentRepository{
		pool: pool,
		log:  log.With("component", "appointment_repository"),
	}
}

func (r *AppointmentRepository) Create(ctx context.Context, a *appointment.Appointment) error {
	const query = `
		INSERT INTO appointments
			(id, clinic_id, patient_id, doctor_id, start_time, end_time,
			 status, service_type, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := db(ctx, r.pool).QueryRow(ctx, query,
		a.ID, a.ClinicID, a.PatientID, a.DoctorID, a.StartTime, a.EndTime,
		a.Status, a.ServiceType, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)

	if err != nil {
		r.log.Error("failed to create appointment",
			"appointment_id", a.ID, "clinic_id", a.ClinicID, "error", err)
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepository) Get(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error) {
	const query = `
		SELECT id, clinic_id, patient_id, doctor_id, start_time, end_time,
		       status, service_type, notes, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND clinic_id = $2`

	a, err := scanAppointment(db(ctx, r.pool).QueryRow(ctx, query, id, clinicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrNotFound
		}
		r.log.Error("failed to get appointment",
			"appointment_id", id, "clinic_id", clinicID, "error", err)
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *AppointmentRepository) Update(ctx context.Context, a *appointment.Appointment) error {
	const query = `
		UPDATE appointments
		SET start_time = $1, end_time = $2, status = $3, service_type = $4,
		    notes = $5, updated_at = $6
		WHERE id = $7 AND clinic_id = $8`

	result, err := db(ctx, r.pool).Exec(ctx, query,
		a.StartTime, a.EndTime, a.Status, a.ServiceType,
		a.Notes, a.UpdatedAt, a.ID, a.ClinicID,
	)
	if err != nil {
		r.log.Error("failed to update appointment", "appointment_id", a.ID, "error", err)
		return fmt.Errorf("update appointment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return appointment.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepository) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]appointment.Appointment, error) {
	const query = `
		SELECT id, clinic_id, patient_id, doctor_id, start_time, end_time,
		       status, service_type, notes, created_at, updated_at
		FROM appointments
		WHERE clinic_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := db(ctx, r.pool).Query(ctx, query, clinicID, since, limit)
	if err != nil {
		r.log.Error("failed to list changed appointments",
			"clinic_id", clinicID, "since", since, "error", err)
		return nil, fmt.Errorf("changed appointments: %w", err)
	}
	defer rows.Close()

	var appointments []appointment.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appointments = append(appointments, *a)
	}
	return appointments, rows.Err()
}

func scanAppointment(row pgx.Row) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := row.Scan(
		&a.ID, &a.ClinicID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.EndTime,
		&a.Status, &a.ServiceType, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

var _ appointment.Repository = (*AppointmentRepository)(nil)
