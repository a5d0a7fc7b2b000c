package patient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinisync/internal/app/server/api/http/middleware/auth"
	"clinisync/internal/domain/sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Encryptor is the sensitive-field transform applied to dni, phone and
// email on every write and reversed on every snapshot.
type Encryptor interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertextHex string) ([]byte, error)
}

// CreatePayload is the typed shape of a sync create operation for a
// patient. Decoded and validated at the boundary, before any storage I/O.
type CreatePayload struct {
	DNI       string     `json:"dni"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Gender    string     `json:"gender,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
	Address   string     `json:"address,omitempty"`
	BloodType string     `json:"blood_type,omitempty"`
	Allergies string     `json:"allergies,omitempty"`
}

// UpdatePayload applies only the fields present in the payload. Identity,
// ownership and creation-time fields are not represented here, so they can
// never be overwritten by a device.
type UpdatePayload struct {
	DNI       *string    `json:"dni,omitempty"`
	FirstName *string    `json:"first_name,omitempty"`
	LastName  *string    `json:"last_name,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Gender    *string    `json:"gender,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Email     *string    `json:"email,omitempty"`
	Address   *string    `json:"address,omitempty"`
	BloodType *string    `json:"blood_type,omitempty"`
	Allergies *string    `json:"allergies,omitempty"`
	IsActive  *bool      `json:"is_active,omitempty"`
}

type Service struct {
	repo Repository
	enc  Encryptor
	log  *slog.Logger
}

func NewService(repo Repository, enc Encryptor, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		enc:  enc,
		log:  log.With("component", "patient_service"),
	}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, data json.RawMessage, _ sync.RefResolver) (uuid.UUID, error) {
	var payload CreatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode patient payload: %w", err)
	}
	if payload.FirstName == "" || payload.LastName == "" {
		return uuid.Nil, fmt.Errorf("patient requires first_name and last_name")
	}

	p := &Patient{
		ID:        uuid.New(),
		ClinicID:  actor.ClinicID,
		DNIHash:   HashDNI(actor.ClinicID, payload.DNI),
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		BirthDate: payload.BirthDate,
		Gender:    payload.Gender,
		Address:   payload.Address,
		BloodType: payload.BloodType,
		Allergies: payload.Allergies,
		IsActive:  true,
	}

	var err error
	if p.DNI, err = s.encryptField(payload.DNI); err != nil {
		return uuid.Nil, err
	}
	if p.Phone, err = s.encryptField(payload.Phone); err != nil {
		return uuid.Nil, err
	}
	if p.Email, err = s.encryptField(payload.Email); err != nil {
		return uuid.Nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return uuid.Nil, fmt.Errorf("create patient: %w", err)
	}
	return p.ID, nil
}

func (s *Service) Get(ctx context.Context, clinicID, serverID uuid.UUID) (sync.Record, error) {
	p, err := s.repo.Get(ctx, clinicID, serverID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("patient %s: %w", serverID, sync.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, _ auth.Actor, rec sync.Record, data json.RawMessage, ts time.Time) error {
	p, ok := rec.(*Patient)
	if !ok {
		return fmt.Errorf("unexpected record type %T", rec)
	}

	var payload UpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode patient payload: %w", err)
	}

	if payload.DNI != nil {
		enc, err := s.encryptField(*payload.DNI)
		if err != nil {
			return err
		}
		p.DNI = enc
		p.DNIHash = HashDNI(p.ClinicID, *payload.DNI)
	}
	if payload.Phone != nil {
		enc, err := s.encryptField(*payload.Phone)
		if err != nil {
			return err
		}
		p.Phone = enc
	}
	if payload.Email != nil {
		enc, err := s.encryptField(*payload.Email)
		if err != nil {
			return err
		}
		p.Email = enc
	}
	if payload.FirstName != nil {
		p.FirstName = *payload.FirstName
	}
	if payload.LastName != nil {
		p.LastName = *payload.LastName
	}
	if payload.BirthDate != nil {
		p.BirthDate = payload.BirthDate
	}
	if payload.Gender != nil {
		p.Gender = *payload.Gender
	}
	if payload.Address != nil {
		p.Address = *payload.Address
	}
	if payload.BloodType != nil {
		p.BloodType = *payload.BloodType
	}
	if payload.Allergies != nil {
		p.Allergies = *payload.Allergies
	}
	if payload.IsActive != nil {
		p.IsActive = *payload.IsActive
	}

	// The client timestamp becomes the record's last-modified time, so a
	// later write from another device is compared against it.
	p.UpdatedAt = ts

	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (s *Service) Snapshot(rec sync.Record) (map[string]any, error) {
	p, ok := rec.(*Patient)
	if !ok {
		return nil, fmt.Errorf("unexpected record type %T", rec)
	}
	return s.snapshot(p)
}

func (s *Service) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]sync.Delta, error) {
	patients, err := s.repo.ChangedSince(ctx, clinicID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("changed patients: %w", err)
	}

	deltas := make([]sync.Delta, 0, len(patients))
	for i := range patients {
		p := &patients[i]
		data, err := s.snapshot(p)
		if err != nil {
			s.log.Warn("failed to snapshot patient", "patient_id", p.ID, "error", err)
			continue
		}
		deltas = append(deltas, sync.Delta{
			ServerID:  p.ID,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
			Data:      data,
		})
	}
	return deltas, nil
}

func (s *Service) snapshot(p *Patient) (map[string]any, error) {
	dni, err := s.decryptField(p.DNI)
	if err != nil {
		return nil, fmt.Errorf("decrypt dni: %w", err)
	}
	phone, err := s.decryptField(p.Phone)
	if err != nil {
		return nil, fmt.Errorf("decrypt phone: %w", err)
	}
	email, err := s.decryptField(p.Email)
	if err != nil {
		return nil, fmt.Errorf("decrypt email: %w", err)
	}

	data := map[string]any{
		"id":         p.ID.String(),
		"dni":        dni,
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"gender":     p.Gender,
		"phone":      phone,
		"email":      email,
		"address":    p.Address,
		"blood_type": p.BloodType,
		"allergies":  p.Allergies,
		"is_active":  p.IsActive,
		"updated_at": p.UpdatedAt,
	}
	if p.BirthDate != nil {
		data["birth_date"] = p.BirthDate.Format("2006-01-02")
	}
	return data, nil
}

func (s *Service) encryptField(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	enc, err := s.enc.Encrypt([]byte(value))
	if err != nil {
		return "", fmt.Errorf("encrypt field: %w", err)
	}
	return enc, nil
}

func (s *Service) decryptField(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	plain, err := s.enc.Decrypt(value)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// HashDNI derives the tenant-scoped lookup hash of a national id number.
func HashDNI(clinicID uuid.UUID, dni string) string {
	sum := sha256.Sum256([]byte(clinicID.String() + ":" + dni))
	return hex.EncodeToString(sum[:])
}

var _ sync.MutableHandler = (*Service)(nil)
