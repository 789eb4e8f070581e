package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fitness-messaging/pkg/models"
)

// MemoryStore is an in-memory implementation of every repository, with the
// same unique keys as the MongoDB indexes. Used by tests and local runs.
type MemoryStore struct {
	mu          sync.RWMutex
	experts     map[string]*Expert
	bookings    map[string]*Booking
	deadLetters map[string]*models.DeadLetter
}

var (
	_ ExpertRepository  = (*MemoryStore)(nil)
	_ BookingRepository = (*MemoryStore)(nil)
	_ DeadLetterStore   = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experts:     make(map[string]*Expert),
		bookings:    make(map[string]*Booking),
		deadLetters: make(map[string]*models.DeadLetter),
	}
}

func (s *MemoryStore) CreateExpert(ctx context.Context, e *Expert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experts[e.Email]; exists {
		return fmt.Errorf("%w: expert email %s", ErrDuplicate, e.Email)
	}
	stored := *e
	stored.Skills = append([]string(nil), e.Skills...)
	s.experts[e.Email] = &stored
	return nil
}

func (s *MemoryStore) GetExpertByEmail(ctx context.Context, email string) (*Expert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.experts[email]
	if !ok {
		return nil, fmt.Errorf("%w: expert %s", ErrNotFound, email)
	}
	result := *e
	return &result, nil
}

func (s *MemoryStore) CreateBooking(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[b.AvailableID]; exists {
		return fmt.Errorf("%w: slot %s already booked", ErrDuplicate, b.AvailableID)
	}
	stored := *b
	s.bookings[b.AvailableID] = &stored
	return nil
}

// Bookings returns all bookings ordered by creation time.
func (s *MemoryStore) Bookings() []Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) InsertDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deadLetters[dl.ID]; exists {
		return fmt.Errorf("%w: dead letter %s", ErrDuplicate, dl.ID)
	}
	stored := *dl
	if dl.Headers != nil {
		stored.Headers = make(map[string]interface{}, len(dl.Headers))
		for k, v := range dl.Headers {
			stored.Headers[k] = v
		}
	}
	s.deadLetters[dl.ID] = &stored
	return nil
}

func (s *MemoryStore) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*models.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.DeadLetter
	for _, dl := range s.deadLetters {
		if filter.Queue != "" && dl.Queue != filter.Queue {
			continue
		}
		result := *dl
		out = append(out, &result)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.After(out[j].ArchivedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
