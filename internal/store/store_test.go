package store

import (
	"context"
	"testing"
	"time"

	"fitness-messaging/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMemoryStore_CreateExpert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExpert(ctx, &Expert{ID: "e1", Name: "Jane", Email: "jane@x.io"}))

	err := s.CreateExpert(ctx, &Expert{ID: "e2", Name: "Janet", Email: "jane@x.io"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetExpertByEmail(ctx, "jane@x.io")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Name)

	_, err = s.GetExpertByEmail(ctx, "nobody@x.io")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateBooking(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateBooking(ctx, &Booking{ID: "b1", UserID: "u1", AvailableID: "slot-1", CreatedAt: now}))
	require.NoError(t, s.CreateBooking(ctx, &Booking{ID: "b2", UserID: "u2", AvailableID: "slot-2", CreatedAt: now.Add(time.Second)}))

	err := s.CreateBooking(ctx, &Booking{ID: "b3", UserID: "u3", AvailableID: "slot-1"})
	assert.ErrorIs(t, err, ErrDuplicate)

	bookings := s.Bookings()
	require.Len(t, bookings, 2)
	assert.Equal(t, "b1", bookings[0].ID)
	assert.Equal(t, "b2", bookings[1].ID)
}

func TestMemoryStore_DeadLetters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, queue := range []string{"booking", "booking", "add-meal"} {
		require.NoError(t, s.InsertDeadLetter(ctx, &models.DeadLetter{
			ID:         string(rune('a' + i)),
			Queue:      queue,
			Body:       []byte(`{}`),
			ArchivedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	err := s.InsertDeadLetter(ctx, &models.DeadLetter{ID: "a", Queue: "booking"})
	assert.ErrorIs(t, err, ErrDuplicate)

	all, err := s.ListDeadLetters(ctx, DeadLetterFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bookings, err := s.ListDeadLetters(ctx, DeadLetterFilter{Queue: "booking", Limit: 1})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "b", bookings[0].ID, "newest first")
}

func TestIndexes(t *testing.T) {
	idx := Indexes()

	require.Len(t, idx[ExpertsCollection], 1)
	assert.Equal(t, bson.D{{Key: "email", Value: 1}}, idx[ExpertsCollection][0].Keys)
	require.NotNil(t, idx[ExpertsCollection][0].Options.Unique)
	assert.True(t, *idx[ExpertsCollection][0].Options.Unique)

	require.NotEmpty(t, idx[BookingsCollection])
	assert.Equal(t, bson.D{{Key: "available_id", Value: 1}}, idx[BookingsCollection][0].Keys)
	assert.NotEmpty(t, idx[DeadLettersCollection])
}

func TestDeadLetterBSONRoundTrip(t *testing.T) {
	dl := models.DeadLetter{
		ID:         "dl-1",
		Queue:      "create-expert",
		MessageID:  "m-1",
		Body:       []byte(`{"name":"Jane"}`),
		RetryCount: 2,
		Reason:     "duplicate email",
		ArchivedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	raw, err := bson.Marshal(dl)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "dl-1", doc["_id"])
	assert.Equal(t, "create-expert", doc["queue"])
	assert.EqualValues(t, 2, doc["retry_count"])
	assert.NotContains(t, doc, "headers")
}
