package service

import (
	"context"
	"fmt"
	"sort"

	"fitness-messaging/internal/rabbitmq"
	"fitness-messaging/internal/store"
	"fitness-messaging/pkg/queues"
)

// Subscription runs one consumer until ctx is cancelled.
type Subscription func(ctx context.Context, c *rabbitmq.Consumer) error

// Repositories bundles what the processors persist to.
type Repositories struct {
	Experts  store.ExpertRepository
	Bookings store.BookingRepository
}

// Subscriptions returns the worker subscriptions keyed by queue name. When
// only is non-empty it selects a subset; naming a queue without a processor
// is an error.
func Subscriptions(repos Repositories, only []string) (map[string]Subscription, error) {
	experts := NewExpertProcessor(repos.Experts)
	bookings := NewBookingProcessor(repos.Bookings)

	all := map[string]Subscription{
		queues.CreateExpert.Name(): func(ctx context.Context, c *rabbitmq.Consumer) error {
			return rabbitmq.Consume(ctx, c, queues.CreateExpert, experts.Process)
		},
		queues.Booking.Name(): func(ctx context.Context, c *rabbitmq.Consumer) error {
			return rabbitmq.Consume(ctx, c, queues.Booking, bookings.Process)
		},
	}

	if len(only) == 0 {
		return all, nil
	}

	selected := make(map[string]Subscription, len(only))
	for _, name := range only {
		if _, err := queues.Lookup(name); err != nil {
			return nil, err
		}
		sub, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("no processor for queue %q", name)
		}
		selected[name] = sub
	}
	return selected, nil
}

// SortedNames returns the keys of subs in order.
func SortedNames(subs map[string]Subscription) []string {
	names := make([]string, 0, len(subs))
	for name := range subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
