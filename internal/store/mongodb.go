package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fitness-messaging/pkg/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	ExpertsCollection     = "experts"
	BookingsCollection    = "bookings"
	DeadLettersCollection = "dead_letters"
)

/*
MongoDB Schema:

experts       { _id, name, email (unique), skills, created_at }
bookings      { _id, user_id, expert_id, available_id (unique), issues, notes, type, status, created_at }
dead_letters  { _id, queue, message_id, body, headers, retry_count, reason, archived_at, published_at }
*/

// Connect opens a client against uri, verifies it with a ping and returns
// the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	return client, client.Database(database), nil
}

// MongoStore implements every repository on one database.
type MongoStore struct {
	experts     *mongo.Collection
	bookings    *mongo.Collection
	deadLetters *mongo.Collection
}

var (
	_ ExpertRepository  = (*MongoStore)(nil)
	_ BookingRepository = (*MongoStore)(nil)
	_ DeadLetterStore   = (*MongoStore)(nil)
)

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		experts:     db.Collection(ExpertsCollection),
		bookings:    db.Collection(BookingsCollection),
		deadLetters: db.Collection(DeadLettersCollection),
	}
}

// Indexes returns the indexes each collection needs, keyed by collection name.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		ExpertsCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		BookingsCollection: {
			{
				Keys:    bson.D{{Key: "available_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			},
		},
		DeadLettersCollection: {
			{
				Keys: bson.D{{Key: "queue", Value: 1}, {Key: "archived_at", Value: -1}},
			},
		},
	}
}

// EnsureIndexes creates the indexes returned by Indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{s.experts, s.bookings, s.deadLetters} {
		idx := Indexes()[coll.Name()]
		if len(idx) == 0 {
			continue
		}
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) CreateExpert(ctx context.Context, e *Expert) error {
	if _, err := s.experts.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: expert email %s", ErrDuplicate, e.Email)
		}
		return fmt.Errorf("insert expert: %w", err)
	}
	return nil
}

func (s *MongoStore) GetExpertByEmail(ctx context.Context, email string) (*Expert, error) {
	var e Expert
	if err := s.experts.FindOne(ctx, bson.M{"email": email}).Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: expert %s", ErrNotFound, email)
		}
		return nil, fmt.Errorf("find expert: %w", err)
	}
	return &e, nil
}

func (s *MongoStore) CreateBooking(ctx context.Context, b *Booking) error {
	if _, err := s.bookings.InsertOne(ctx, b); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: slot %s already booked", ErrDuplicate, b.AvailableID)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	if _, err := s.deadLetters.InsertOne(ctx, dl); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: dead letter %s", ErrDuplicate, dl.ID)
		}
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *MongoStore) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*models.DeadLetter, error) {
	query := bson.M{}
	if filter.Queue != "" {
		query["queue"] = filter.Queue
	}

	opts := options.Find().SetSort(bson.D{{Key: "archived_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.deadLetters.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.DeadLetter
	for cursor.Next(ctx) {
		var dl models.DeadLetter
		if err := cursor.Decode(&dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, &dl)
	}
	return out, cursor.Err()
}
