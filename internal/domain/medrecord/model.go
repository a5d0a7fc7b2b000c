package medrecord

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RecordType classifies a general medical record entry.
type RecordType string

const (
	TypeConsultation RecordType = "consultation"
	TypeDiagnosis    RecordType = "diagnosis"
	TypeTreatment    RecordType = "treatment"
	TypeLabResult    RecordType = "lab_result"
	TypePrescription RecordType = "prescription"
)

func (t RecordType) Valid() bool {
	switch t {
	case TypeConsultation, TypeDiagnosis, TypeTreatment, TypeLabResult, TypePrescription:
		return true
	}
	return false
}

// MedicalRecord is one clinical history entry. Entries are append-only:
// once written they are never modified, corrections are new entries.
type MedicalRecord struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	RecordType    RecordType
	CIE10Codes    []string
	Content       string
	SpecialtyData json.RawMessage
	Notes         string
	CreatedAt     time.Time
}

func (r *MedicalRecord) ServerID() uuid.UUID     { return r.ID }
func (r *MedicalRecord) CreatedTime() time.Time  { return r.CreatedAt }
func (r *MedicalRecord) ModifiedTime() time.Time { return r.CreatedAt }

// DentalChart is one odontogram observation for a single tooth.
type DentalChart struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	ToothNumber int
	Surfaces    []string
	Condition   string
	Treatment   string
	Notes       string
	CreatedAt   time.Time
}

func (d *DentalChart) ServerID() uuid.UUID     { return d.ID }
func (d *DentalChart) CreatedTime() time.Time  { return d.CreatedAt }
func (d *DentalChart) ModifiedTime() time.Time { return d.CreatedAt }

// PrenatalVisit is one obstetric control visit.
type PrenatalVisit struct {
	ID              uuid.UUID
	ClinicID        uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	GestationalWeek int
	WeightKg        float64
	BloodPressure   string
	FetalHeartRate  int
	FundalHeight    float64
	Notes           string
	NextVisitDate   *time.Time
	CreatedAt       time.Time
}

func (v *PrenatalVisit) ServerID() uuid.UUID     { return v.ID }
func (v *PrenatalVisit) CreatedTime() time.Time  { return v.CreatedAt }
func (v *PrenatalVisit) ModifiedTime() time.Time { return v.CreatedAt }

// OphthalmicExam is one refraction and pressure measurement for one eye.
type OphthalmicExam struct {
	ID           uuid.UUID
	ClinicID     uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	Eye          string
	VisualAcuity string
	Sphere       float64
	Cylinder     float64
	Axis         int
	IOP          float64
	Notes        string
	CreatedAt    time.Time
}

func (e *OphthalmicExam) ServerID() uuid.UUID     { return e.ID }
func (e *OphthalmicExam) CreatedTime() time.Time  { return e.CreatedAt }
func (e *OphthalmicExam) ModifiedTime() time.Time { return e.CreatedAt }
