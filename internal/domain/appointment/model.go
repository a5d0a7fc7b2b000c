package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

type Appointment struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	ServiceType string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a *Appointment) ServerID() uuid.UUID     { return a.ID }
func (a *Appointment) CreatedTime() time.Time  { return a.CreatedAt }
func (a *Appointment) ModifiedTime() time.Time { return a.UpdatedAt }
