// Package queues is the closed registry of logical queue names and the payload
// type each one carries. Producers and consumers in every service share these
// definitions so that a queue name always decodes to the same shape.
//
// Typed handles give compile-time checking:
//
//	rabbitmq.Publish(ctx, pub, queues.CreateExpert, queues.CreateExpertPayload{...})
//
// Lookup gives the same contract at runtime for tools that only know a name.
package queues

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownQueue    = errors.New("queues: unknown queue")
	ErrPayloadMismatch = errors.New("queues: payload type does not match queue")
)

// Validator is implemented by payloads that check their own required fields.
type Validator interface {
	Validate() error
}

// Entry is the runtime view of a registered queue.
type Entry interface {
	Name() string
	// DecodeAny parses body into a new payload value of the queue's type.
	DecodeAny(body []byte) (any, error)
	// EncodeAny serializes v, which must be the queue's payload type or a pointer to it.
	EncodeAny(v any) ([]byte, error)
}

// Queue is a typed handle on a registered logical queue.
type Queue[T any] struct {
	name string
}

func (q Queue[T]) Name() string { return q.name }

func (q Queue[T]) String() string { return q.name }

// Decode parses and validates a payload received on q.
func (q Queue[T]) Decode(body []byte) (T, error) {
	var payload T
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("queues: decode %s payload: %w", q.name, err)
	}
	if err := validate(payload); err != nil {
		return payload, fmt.Errorf("queues: invalid %s payload: %w", q.name, err)
	}
	return payload, nil
}

// Encode validates and serializes a payload for q.
func (q Queue[T]) Encode(payload T) ([]byte, error) {
	if err := validate(payload); err != nil {
		return nil, fmt.Errorf("queues: invalid %s payload: %w", q.name, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queues: encode %s payload: %w", q.name, err)
	}
	return body, nil
}

func (q Queue[T]) DecodeAny(body []byte) (any, error) {
	return q.Decode(body)
}

func (q Queue[T]) EncodeAny(v any) ([]byte, error) {
	switch p := v.(type) {
	case T:
		return q.Encode(p)
	case *T:
		if p == nil {
			return nil, fmt.Errorf("%w: nil %T for %s", ErrPayloadMismatch, v, q.name)
		}
		return q.Encode(*p)
	default:
		return nil, fmt.Errorf("%w: %T for %s", ErrPayloadMismatch, v, q.name)
	}
}

func validate(payload any) error {
	if v, ok := payload.(Validator); ok {
		return v.Validate()
	}
	return nil
}

var registry = make(map[string]Entry)

// define registers a queue. Only called from package-level vars, so the
// registry is fixed once the package is initialized.
func define[T any](name string) Queue[T] {
	if _, exists := registry[name]; exists {
		panic("queues: duplicate queue " + name)
	}
	q := Queue[T]{name: name}
	registry[name] = q
	return q
}

// Lookup returns the registered entry for name.
func Lookup(name string) (Entry, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}
	return entry, nil
}

// Names returns all registered queue names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
