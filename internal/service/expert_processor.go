package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fitness-messaging/internal/observability"
	"fitness-messaging/internal/store"
	"fitness-messaging/pkg/queues"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ExpertProcessor handles create-expert messages by persisting the expert
// profile.
type ExpertProcessor struct {
	repo   store.ExpertRepository
	logger *logrus.Logger
	now    func() time.Time
}

func NewExpertProcessor(repo store.ExpertRepository) *ExpertProcessor {
	return &ExpertProcessor{
		repo:   repo,
		logger: observability.GetLogger(),
		now:    time.Now,
	}
}

// Process stores the expert. A duplicate email is returned as an error, so
// the message is retried and eventually dead-lettered for an operator.
func (p *ExpertProcessor) Process(ctx context.Context, payload queues.CreateExpertPayload) error {
	expert := &store.Expert{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(payload.Name),
		Email:     strings.ToLower(strings.TrimSpace(payload.Email)),
		Skills:    payload.Skills,
		CreatedAt: p.now().UTC(),
	}

	if err := p.repo.CreateExpert(ctx, expert); err != nil {
		return fmt.Errorf("create expert %s: %w", expert.Email, err)
	}

	p.logger.WithFields(logrus.Fields{
		"expert_id": expert.ID,
		"email":     expert.Email,
	}).Info("Expert created")
	return nil
}
