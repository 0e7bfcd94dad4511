package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"talentbridge-backend/internal/domain"
	"talentbridge-backend/pkg/logger"
	"talentbridge-backend/pkg/metrics"
)

// Repository persists notification rows
type Repository interface {
	Create(ctx context.Context, create *domain.NotificationCreate) (*domain.Notification, error)
}

// Service dispatches user notifications. Delivery is best-effort: callers
// treat failures as non-fatal and the service logs them instead of
// propagating.
type Service struct {
	repo    Repository
	metrics *metrics.Metrics
}

// NewService creates a new notification service
func NewService(repo Repository, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		metrics: m,
	}
}

// Notify stores a notification for a user
func (s *Service) Notify(ctx context.Context, create *domain.NotificationCreate) error {
	if s.repo == nil {
		return fmt.Errorf("notification repository not configured")
	}

	_, err := s.repo.Create(ctx, create)
	if err != nil {
		if s.metrics != nil {
			s.metrics.NotificationDispatched(create.Type, "failed")
		}
		logger.Warn("failed to dispatch notification",
			zap.String("user_id", create.UserID.String()),
			zap.String("type", create.Type),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	if s.metrics != nil {
		s.metrics.NotificationDispatched(create.Type, "ok")
	}

	return nil
}
