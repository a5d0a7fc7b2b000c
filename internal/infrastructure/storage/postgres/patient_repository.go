package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinisync/internal/domain/patient"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

type PatientRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPatientRepository(pool *pgxpool.Pool, log *slog.Logger) *PatientRepository {
	return &PatientRepository{
		pool: pool,
		log:  log.With("component", "patient_repository"),
	}
}

func (r *PatientRepository) Create(ctx context.Context, p *patient.Patient) error {
	const query = `
		INSERT INTO patients
			(id, clinic_id, dni, dni_hash, first_name, last_name, birth_date,
			 gender, phone, email, address, blood_type, allergies, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := db(ctx, r.pool).QueryRow(ctx, query,
		p.ID, p.ClinicID, p.DNI, p.DNIHash, p.FirstName, p.LastName, p.BirthDate,
		p.Gender, p.Phone, p.Email, p.Address, p.BloodType, p.Allergies, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		r.log.Error("failed to create patient",
			"patient_id", p.ID, "clinic_id", p.ClinicID, "error", err)
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (r *PatientRepository) Get(ctx context.Context, clinicID, id uuid.UUID) (*patient.Patient, error) {
	const query = `
		SELECT id, clinic_id, dni, dni_hash, first_name, last_name, birth_date,
		       gender, phone, email, address, blood_type, allergies, is_active,
		       created_at, updated_at
		FROM patients
		WHERE id = $1 AND clinic_id = $2`

	p, err := scanPatient(db(ctx, r.pool).QueryRow(ctx, query, id, clinicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, patient.ErrNotFound
		}
		r.log.Error("failed to get patient",
			"patient_id", id, "clinic_id", clinicID, "error", err)
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *PatientRepository) Update(ctx context.Context, p *patient.Patient) error {
	// updated_at comes from the caller, it carries last-write-wins
	// semantics and must not be overwritten with NOW().
	const query = `
		UPDATE patients
		SET dni = $1, dni_hash = $2, first_name = $3, last_name = $4,
		    birth_date = $5, gender = $6, phone = $7, email = $8, address = $9,
		    blood_type = $10, allergies = $11, is_active = $12, updated_at = $13
		WHERE id = $14 AND clinic_id = $15`

	result, err := db(ctx, r.pool).Exec(ctx, query,
		p.DNI, p.DNIHash, p.FirstName, p.LastName,
		p.BirthDate, p.Gender, p.Phone, p.Email, p.Address,
		p.BloodType, p.Allergies, p.IsActive, p.UpdatedAt,
		p.ID, p.ClinicID,
	)
	if err != nil {
		r.log.Error("failed to update patient", "patient_id", p.ID, "error", err)
		return fmt.Errorf("update patient: %w", err)
	}
	if result.RowsAffected() == 0 {
		return patient.ErrNotFound
	}
	return nil
}

func (r *PatientRepository) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]patient.Patient, error) {
	const query = `
		SELECT id, clinic_id, dni, dni_hash, first_name, last_name, birth_date,
		       gender, phone, email, address, blood_type, allergies, is_active,
		       created_at, updated_at
		FROM patients
		WHERE clinic_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := db(ctx, r.pool).Query(ctx, query, clinicID, since, limit)
	if err != nil {
		r.log.Error("failed to list changed patients",
			"clinic_id", clinicID, "since", since, "error", err)
		return nil, fmt.Errorf("changed patients: %w", err)
	}
	defer rows.Close()

	var patients []patient.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, *p)
	}
	return patients, rows.Err()
}

func scanPatient(row pgx.Row) (*patient.Patient, error) {
	var p patient.Patient
	err := row.Scan(
		&p.ID, &p.ClinicID, &p.DNI, &p.DNIHash, &p.FirstName, &p.LastName,
		&p.BirthDate, &p.Gender, &p.Phone, &p.Email, &p.Address,
		&p.BloodType, &p.Allergies, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

var _ patient.Repository = (*PatientRepository)(nil)
