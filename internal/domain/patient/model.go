package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient as stored: dni, phone and email hold ciphertext, never
// plaintext. DNIHash exists so uniqueness checks and lookups work without
// decrypting.
type Patient struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	DNI       string
	DNIHash   string
	FirstName string
	LastName  string
	BirthDate *time.Time
	Gender    string
	Phone     string
	Email     string
	Address   string
	BloodType string
	Allergies string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Patient) ServerID() uuid.UUID     { return p.ID }
func (p *Patient) CreatedTime() time.Time  { return p.CreatedAt }
func (p *Patient) ModifiedTime() time.Time { return p.UpdatedAt }
