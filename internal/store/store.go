// Package store persists what the workers and operator tools produce:
// expert profiles, appointment bookings and archived dead letters.
package store

import (
	"context"
	"errors"
	"time"

	"fitness-messaging/pkg/models"
)

var (
	// ErrDuplicate is returned when a unique key (expert email, booking slot,
	// dead-letter id) already exists.
	ErrDuplicate = errors.New("store: duplicate key")
	ErrNotFound  = errors.New("store: not found")
)

// Expert is a nutrition/fitness expert profile created from create-expert.
type Expert struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Email     string    `bson:"email" json:"email"`
	Skills    []string  `bson:"skills,omitempty" json:"skills,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
)

// Booking is an appointment reserved against one expert availability slot.
type Booking struct {
	ID          string    `bson:"_id" json:"id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	ExpertID    string    `bson:"expert_id" json:"expert_id"`
	AvailableID string    `bson:"available_id" json:"available_id"`
	Issues      string    `bson:"issues,omitempty" json:"issues,omitempty"`
	Notes       string    `bson:"notes,omitempty" json:"notes,omitempty"`
	Type        string    `bson:"type,omitempty" json:"type,omitempty"`
	Status      string    `bson:"status" json:"status"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

type ExpertRepository interface {
	// CreateExpert inserts e; an existing email yields ErrDuplicate.
	CreateExpert(ctx context.Context, e *Expert) error
	GetExpertByEmail(ctx context.Context, email string) (*Expert, error)
}

type BookingRepository interface {
	// CreateBooking inserts b; a slot that is already booked yields ErrDuplicate.
	CreateBooking(ctx context.Context, b *Booking) error
}

// DeadLetterFilter narrows a dead-letter listing.
type DeadLetterFilter struct {
	Queue string
	Limit int
}

// DeadLetterStore archives messages drained from dead-letter queues.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, dl *models.DeadLetter) error
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*models.DeadLetter, error)
}
