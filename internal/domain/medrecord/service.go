package medrecord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinisync/internal/app/server/api/http/middleware/auth"
	"clinisync/internal/domain/sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Service owns the four append-only clinical entities. Each entity is
// exposed to the engine through its own handler accessor; none of the
// handlers implements sync.MutableHandler, which is what makes every
// update against them a structural conflict.
type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "medrecord_service"),
	}
}

func (s *Service) Records() sync.EntityHandler         { return recordHandler{s} }
func (s *Service) DentalCharts() sync.EntityHandler    { return dentalChartHandler{s} }
func (s *Service) PrenatalVisits() sync.EntityHandler  { return prenatalVisitHandler{s} }
func (s *Service) OphthalmicExams() sync.EntityHandler { return ophthalmicExamHandler{s} }

// resolvePatient is shared by all four payloads: the patient reference may
// be a device-local id from earlier in the same batch.
func resolvePatient(ctx context.Context, refs sync.RefResolver, id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.Nil, fmt.Errorf("patient_id is required")
	}
	patientID, err := refs.ResolveRef(ctx, sync.EntityPatient, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve patient reference: %w", err)
	}
	return patientID, nil
}

type recordHandler struct{ s *Service }

type recordPayload struct {
	PatientID     string          `json:"patient_id"`
	RecordType    RecordType      `json:"record_type"`
	CIE10Codes    []string        `json:"cie10_codes,omitempty"`
	Content       string          `json:"content"`
	SpecialtyData json.RawMessage `json:"specialty_data,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

func (h recordHandler) Create(ctx context.Context, actor auth.Actor, data json.RawMessage, refs sync.RefResolver) (uuid.UUID, error) {
	var payload recordPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode record payload: %w", err)
	}
	if !payload.RecordType.Valid() {
		return uuid.Nil, fmt.Errorf("invalid record_type %q", payload.RecordType)
	}
	if payload.Content == "" {
		return uuid.Nil, fmt.Errorf("record requires content")
	}

	patientID, err := resolvePatient(ctx, refs, payload.PatientID)
	if err != nil {
		return uuid.Nil, err
	}

	r := &MedicalRecord{
		ID:            uuid.New(),
		ClinicID:      actor.ClinicID,
		PatientID:     patientID,
		DoctorID:      actor.UserID,
		RecordType:    payload.RecordType,
		CIE10Codes:    payload.CIE10Codes,
		Content:       payload.Content,
		SpecialtyData: payload.SpecialtyData,
		Notes:         payload.Notes,
	}
	if err := h.s.repo.CreateRecord(ctx, r); err != nil {
		return uuid.Nil, fmt.Errorf("create record: %w", err)
	}
	return r.ID, nil
}

func (h recordHandler) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]sync.Delta, error) {
	records, err := h.s.repo.RecordsCreatedSince(ctx, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("records created since: %w", err)
	}

	deltas := make([]sync.Delta, 0, len(records))
	for i := range records {
		r := &records[i]
		data := map[string]any{
			"id":          r.ID.String(),
			"patient_id":  r.PatientID.String(),
			"doctor_id":   r.DoctorID.String(),
			"record_type": string(r.RecordType),
			"cie10_codes": r.CIE10Codes,
			"content":     r.Content,
			"notes":       r.Notes,
			"created_at":  r.CreatedAt,
		}
		if len(r.SpecialtyData) > 0 {
			data["specialty_data"] = r.SpecialtyData
		}
		deltas = append(deltas, sync.Delta{
			ServerID:  r.ID,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.CreatedAt,
			Data:      data,
		})
	}
	return deltas, nil
}

type dentalChartHandler struct{ s *Service }

type dentalChartPayload struct {
	PatientID   string   `json:"patient_id"`
	ToothNumber int      `json:"tooth_number"`
	Surfaces    []string `json:"surfaces,omitempty"`
	Condition   string   `json:"condition"`
	Treatment   string   `json:"treatment,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

func (h dentalChartHandler) Create(ctx context.Context, actor auth.Actor, data json.RawMessage, refs sync.RefResolver) (uuid.UUID, error) {
	var payload dentalChartPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode dental chart payload: %w", err)
	}
	// FDI two-digit notation, quadrants 1-4 permanent and 5-8 primary.
	if payload.ToothNumber < 11 || payload.ToothNumber > 85 {
		return uuid.Nil, fmt.Errorf("invalid tooth_number %d", payload.ToothNumber)
	}
	if payload.Condition == "" {
		return uuid.Nil, fmt.Errorf("dental chart requires condition")
	}

	patientID, err := resolvePatient(ctx, refs, payload.PatientID)
	if err != nil {
		return uuid.Nil, err
	}

	d := &DentalChart{
		ID:          uuid.New(),
		ClinicID:    actor.ClinicID,
		PatientID:   patientID,
		DoctorID:    actor.UserID,
		ToothNumber: payload.ToothNumber,
		Surfaces:    payload.Surfaces,
		Condition:   payload.Condition,
		Treatment:   payload.Treatment,
		Notes:       payload.Notes,
	}
	if err := h.s.repo.CreateDentalChart(ctx, d); err != nil {
		return uuid.Nil, fmt.Errorf("create dental chart: %w", err)
	}
	return d.ID, nil
}

func (h dentalChartHandler) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]sync.Delta, error) {
	charts, err := h.s.repo.DentalChartsCreatedSince(ctx, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("dental charts created since: %w", err)
	}

	deltas := make([]sync.Delta, 0, len(charts))
	for i := range charts {
		d := &charts[i]
		deltas = append(deltas, sync.Delta{
			ServerID:  d.ID,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.CreatedAt,
			Data: map[string]any{
				"id":           d.ID.String(),
				"patient_id":   d.PatientID.String(),
				"doctor_id":    d.DoctorID.String(),
				"tooth_number": d.ToothNumber,
				"surfaces":     d.Surfaces,
				"condition":    d.Condition,
				"treatment":    d.Treatment,
				"notes":        d.Notes,
				"created_at":   d.CreatedAt,
			},
		})
	}
	return deltas, nil
}

type prenatalVisitHandler struct{ s *Service }

type prenatalVisitPayload struct {
	PatientID       string     `json:"patient_id"`
	GestationalWeek int        `json:"gestational_week"`
	WeightKg        float64    `json:"weight_kg,omitempty"`
	BloodPressure   string     `json:"blood_pressure,omitempty"`
	FetalHeartRate  int        `json:"fetal_heart_rate,omitempty"`
	FundalHeight    float64    `json:"fundal_height,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	NextVisitDate   *time.Time `json:"next_visit_date,omitempty"`
}

func (h prenatalVisitHandler) Create(ctx context.Context, actor auth.Actor, data json.RawMessage, refs sync.RefResolver) (uuid.UUID, error) {
	var payload prenatalVisitPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode prenatal visit payload: %w", err)
	}
	if payload.GestationalWeek < 1 || payload.GestationalWeek > 44 {
		return uuid.Nil, fmt.Errorf("invalid gestational_week %d", payload.GestationalWeek)
	}

	patientID, err := resolvePatient(ctx, refs, payload.PatientID)
	if err != nil {
		return uuid.Nil, err
	}

	v := &PrenatalVisit{
		ID:              uuid.New(),
		ClinicID:        actor.ClinicID,
		PatientID:       patientID,
		DoctorID:        actor.UserID,
		GestationalWeek: payload.GestationalWeek,
		WeightKg:        payload.WeightKg,
		BloodPressure:   payload.BloodPressure,
		FetalHeartRate:  payload.FetalHeartRate,
		FundalHeight:    payload.FundalHeight,
		Notes:           payload.Notes,
		NextVisitDate:   payload.NextVisitDate,
	}
	if err := h.s.repo.CreatePrenatalVisit(ctx, v); err != nil {
		return uuid.Nil, fmt.Errorf("create prenatal visit: %w", err)
	}
	return v.ID, nil
}

func (h prenatalVisitHandler) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]sync.Delta, error) {
	visits, err := h.s.repo.PrenatalVisitsCreatedSince(ctx, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("prenatal visits created since: %w", err)
	}

	deltas := make([]sync.Delta, 0, len(visits))
	for i := range visits {
		v := &visits[i]
		data := map[string]any{
			"id":               v.ID.String(),
			"patient_id":       v.PatientID.String(),
			"doctor_id":        v.DoctorID.String(),
			"gestational_week": v.GestationalWeek,
			"weight_kg":        v.WeightKg,
			"blood_pressure":   v.BloodPressure,
			"fetal_heart_rate": v.FetalHeartRate,
			"fundal_height":    v.FundalHeight,
			"notes":            v.Notes,
			"created_at":       v.CreatedAt,
		}
		if v.NextVisitDate != nil {
			data["next_visit_date"] = v.NextVisitDate.Format("2006-01-02")
		}
		deltas = append(deltas, sync.Delta{
			ServerID:  v.ID,
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.CreatedAt,
			Data:      data,
		})
	}
	return deltas, nil
}

type ophthalmicExamHandler struct{ s *Service }

type ophthalmicExamPayload struct {
	PatientID    string  `json:"patient_id"`
	Eye          string  `json:"eye"`
	VisualAcuity string  `json:"visual_acuity,omitempty"`
	Sphere       float64 `json:"sphere,omitempty"`
	Cylinder     float64 `json:"cylinder,omitempty"`
	Axis         int     `json:"axis,omitempty"`
	IOP          float64 `json:"intraocular_pressure,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

func (h ophthalmicExamHandler) Create(ctx context.Context, actor auth.Actor, data json.RawMessage, refs sync.RefResolver) (uuid.UUID, error) {
	var payload ophthalmicExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode ophthalmic exam payload: %w", err)
	}
	if payload.Eye != "left" && payload.Eye != "right" && payload.Eye != "both" {
		return uuid.Nil, fmt.Errorf("invalid eye %q", payload.Eye)
	}
	if payload.Axis < 0 || payload.Axis > 180 {
		return uuid.Nil, fmt.Errorf("invalid axis %d", payload.Axis)
	}

	patientID, err := resolvePatient(ctx, refs, payload.PatientID)
	if err != nil {
		return uuid.Nil, err
	}

	e := &OphthalmicExam{
		ID:           uuid.New(),
		ClinicID:     actor.ClinicID,
		PatientID:    patientID,
		DoctorID:     actor.UserID,
		Eye:          payload.Eye,
		VisualAcuity: payload.VisualAcuity,
		Sphere:       payload.Sphere,
		Cylinder:     payload.Cylinder,
		Axis:         payload.Axis,
		IOP:          payload.IOP,
		Notes:        payload.Notes,
	}
	if err := h.s.repo.CreateOphthalmicExam(ctx, e); err != nil {
		return uuid.Nil, fmt.Errorf("create ophthalmic exam: %w", err)
	}
	return e.ID, nil
}

func (h ophthalmicExamHandler) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]sync.Delta, error) {
	exams, err := h.s.repo.OphthalmicExamsCreatedSince(ctx, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("ophthalmic exams created since: %w", err)
	}

	deltas := make([]sync.Delta, 0, len(exams))
	for i := range exams {
		e := &exams[i]
		deltas = append(deltas, sync.Delta{
			ServerID:  e.ID,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.CreatedAt,
			Data: map[string]any{
				"id":                   e.ID.String(),
				"patient_id":           e.PatientID.String(),
				"doctor_id":            e.DoctorID.String(),
				"eye":                  e.Eye,
				"visual_acuity":        e.VisualAcuity,
				"sphere":               e.Sphere,
				"cylinder":             e.Cylinder,
				"axis":                 e.Axis,
				"intraocular_pressure": e.IOP,
				"notes":                e.Notes,
				"created_at":           e.CreatedAt,
			},
		})
	}
	return deltas, nil
}

var (
	_ sync.EntityHandler = recordHandler{}
	_ sync.EntityHandler = dentalChartHandler{}
	_ sync.EntityHandler = prenatalVisitHandler{}
	_ sync.EntityHandler = ophthalmicExamHandler{}
)
