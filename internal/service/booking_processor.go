package service

import (
	"context"
	"fmt"
	"time"

	"fitness-messaging/internal/observability"
	"fitness-messaging/internal/store"
	"fitness-messaging/pkg/queues"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BookingProcessor turns booking requests into pending appointments.
type BookingProcessor struct {
	repo   store.BookingRepository
	logger *logrus.Logger
	now    func() time.Time
}

func NewBookingProcessor(repo store.BookingRepository) *BookingProcessor {
	return &BookingProcessor{
		repo:   repo,
		logger: observability.GetLogger(),
		now:    time.Now,
	}
}

func (p *BookingProcessor) Process(ctx context.Context, payload queues.BookingPayload) error {
	booking := &store.Booking{
		ID:          uuid.NewString(),
		UserID:      payload.UserID,
		ExpertID:    payload.ExpertID,
		AvailableID: payload.AvailableID,
		Issues:      payload.Issues,
		Notes:       payload.Notes,
		Type:        payload.Type,
		Status:      store.BookingPending,
		CreatedAt:   p.now().UTC(),
	}

	if err := p.repo.CreateBooking(ctx, booking); err != nil {
		return fmt.Errorf("book slot %s for user %s: %w", payload.AvailableID, payload.UserID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"user_id":      booking.UserID,
		"expert_id":    booking.ExpertID,
		"available_id": booking.AvailableID,
	}).Info("Booking recorded")
	return nil
}
