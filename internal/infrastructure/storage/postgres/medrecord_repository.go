package postgres

import (
	"context"
	"fmt"
	"time"

	"clinisync/internal/domain/medrecord"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

// MedrecordRepository persists the append-only clinical entities. No
// UPDATE statements exist in this file on purpose.
type MedrecordRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewMedrecordRepository(pool *pgxpool.Pool, log *slog.Logger) *MedrecordRepository {
	return &MedrecordRepository{
		pool: pool,
		log:  log.With("component", "medrecord_repository"),
	}
}

func (r *MedrecordRepository) CreateRecord(ctx context.Context, rec *medrecord.MedicalRecord) error {
	const query = `
		INSERT INTO medical_records
			(id, clinic_id, patient_id, doctor_id, record_type, cie10_codes,
			 content, specialty_data, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := db(ctx, r.pool).QueryRow(ctx, query,
		rec.ID, rec.ClinicID, rec.PatientID, rec.DoctorID, rec.RecordType,
		rec.CIE10Codes, rec.Content, rec.SpecialtyData, rec.Notes,
	).Scan(&rec.CreatedAt)

	if err != nil {
		r.log.Error("failed to create medical record",
			"record_id", rec.ID, "clinic_id", rec.ClinicID, "error", err)
		return fmt.Errorf("create medical record: %w", err)
	}
	return nil
}

func (r *MedrecordRepository) CreateDentalChart(ctx context.Context, d *medrecord.DentalChart) error {
	const query = `
		INSERT INTO dental_charts
			(id, clinic_id, patient_id, doctor_id, tooth_number, surfaces,
			 condition, treatment, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := db(ctx, r.pool).QueryRow(ctx, query,
		d.ID, d.ClinicID, d.PatientID, d.DoctorID, d.ToothNumber, d.Surfaces,
		d.Condition, d.Treatment, d.Notes,
	).Scan(&d.CreatedAt)

	if err != nil {
		r.log.Error("failed to create dental chart",
			"chart_id", d.ID, "clinic_id", d.ClinicID, "error", err)
		return fmt.Errorf("create dental chart: %w", err)
	}
	return nil
}

func (r *MedrecordRepository) CreatePrenatalVisit(ctx context.Context, v *medrecord.PrenatalVisit) error {
	const query = `
		INSERT INTO prenatal_visits
			(id, clinic_id, patient_id, doctor_id, gestational_week, weight_kg,
			 blood_pressure, fetal_heart_rate, fundal_height, notes, next_visit_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err := db(ctx, r.pool).QueryRow(ctx, query,
		v.ID, v.ClinicID, v.PatientID, v.DoctorID, v.GestationalWeek, v.WeightKg,
		v.BloodPressure, v.FetalHeartRate, v.FundalHeight, v.Notes, v.NextVisitDate,
	).Scan(&v.CreatedAt)

	if err != nil {
		r.log.Error("failed to create prenatal visit",
			"visit_id", v.ID, "clinic_id", v.ClinicID, "error", err)
		return fmt.Errorf("create prenatal visit: %w", err)
	}
	return nil
}

func (r *MedrecordRepository) CreateOphthalmicExam(ctx context.Context, e *medrecord.OphthalmicExam) error {
	const query = `
		INSERT INTO ophthalmic_exams
			(id, clinic_id, patient_id, doctor_id, eye, visual_acuity,
			 sphere, cylinder, axis, intraocular_pressure, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err := db(ctx, r.pool).QueryRow(ctx, query,
		e.ID, e.ClinicID, e.PatientID, e.DoctorID, e.Eye, e.VisualAcuity,
		e.Sphere, e.Cylinder, e.Axis, e.IOP, e.Notes,
	).Scan(&e.CreatedAt)

	if err != nil {
		r.log.Error("failed to create ophthalmic exam",
			"exam_id", e.ID, "clinic_id", e.ClinicID, "error", err)
		return fmt.Errorf("create ophthalmic exam: %w", err)
	}
	return nil
}

func (r *MedrecordRepository) RecordsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]medrecord.MedicalRecord, error) {
	const query = `
		SELECT id, clinic_id, patient_id, doctor_id, record_type, cie10_codes,
		       content, specialty_data, notes, created_at
		FROM medical_records
		WHERE clinic_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := db(ctx, r.pool).Query(ctx, query, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("records created since: %w", err)
	}
	defer rows.Close()

	var records []medrecord.MedicalRecord
	for rows.Next() {
		var rec medrecord.MedicalRecord
		err := rows.Scan(
			&rec.ID, &rec.ClinicID, &rec.PatientID, &rec.DoctorID, &rec.RecordType,
			&rec.CIE10Codes, &rec.Content, &rec.SpecialtyData, &rec.Notes, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan medical record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *MedrecordRepository) DentalChartsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]medrecord.DentalChart, error) {
	const query = `
		SELECT id, clinic_id, patient_id, doctor_id, tooth_number, surfaces,
		       condition, treatment, notes, created_at
		FROM dental_charts
		WHERE clinic_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := db(ctx, r.pool).Query(ctx, query, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("dental charts created since: %w", err)
	}
	defer rows.Close()

	var charts []medrecord.DentalChart
	for rows.Next() {
		var d medrecord.DentalChart
		err := rows.Scan(
			&d.ID, &d.ClinicID, &d.PatientID, &d.DoctorID, &d.ToothNumber,
			&d.Surfaces, &d.Condition, &d.Treatment, &d.Notes, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan dental chart: %w", err)
		}
		charts = append(charts, d)
	}
	return charts, rows.Err()
}

func (r *MedrecordRepository) PrenatalVisitsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]medrecord.PrenatalVisit, error) {
	const query = `
		SELECT id, clinic_id, patient_id, doctor_id, gestational_week, weight_kg,
		       blood_pressure, fetal_heart_rate, fundal_height, notes,
		       next_visit_date, created_at
		FROM prenatal_visits
		WHERE clinic_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := db(ctx, r.pool).Query(ctx, query, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("prenatal visits created since: %w", err)
	}
	defer rows.Close()

	var visits []medrecord.PrenatalVisit
	for rows.Next() {
		var v medrecord.PrenatalVisit
		err := rows.Scan(
			&v.ID, &v.ClinicID, &v.PatientID, &v.DoctorID, &v.GestationalWeek,
			&v.WeightKg, &v.BloodPressure, &v.FetalHeartRate, &v.FundalHeight,
			&v.Notes, &v.NextVisitDate, &v.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prenatal visit: %w", err)
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func (r *MedrecordRepository) OphthalmicExamsCreatedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]medrecord.OphthalmicExam, error) {
	const query = `
		SELECT id, clinic_id, patient_id, doctor_id, eye, visual_acuity,
		       sphere, cylinder, axis, intraocular_pressure, notes, created_at
		FROM ophthalmic_exams
		WHERE clinic_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := db(ctx, r.pool).Query(ctx, query, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("ophthalmic exams created since: %w", err)
	}
	defer rows.Close()

	var exams []medrecord.OphthalmicExam
	for rows.Next() {
		var e medrecord.OphthalmicExam
		err := rows.Scan(
			&e.ID, &e.ClinicID, &e.PatientID, &e.DoctorID, &e.Eye, &e.VisualAcuity,
			&e.Sphere, &e.Cylinder, &e.Axis, &e.IOP, &e.Notes, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ophthalmic exam: %w", err)
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

var _ medrecord.Repository = (*MedrecordRepository)(nil)
