package cockroach

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentbridge-backend/internal/domain"
)

// NotificationRepository persists user notifications
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create inserts a new notification row
func (r *NotificationRepository) Create(ctx context.Context, create *domain.NotificationCreate) (*domain.Notification, error) {
	notification := &domain.Notification{
		NotificationID: uuid.New(),
		UserID:         create.UserID,
		Type:           create.Type,
		Title:          create.Title,
		Body:           create.Body,
		Data:           create.Data,
		CreatedAt:      time.Now(),
	}

	var data []byte
	if create.Data != nil {
		encoded, err := json.Marshal(create.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode notification data: %w", err)
		}
		data = encoded
	}

	query := `
		INSERT INTO notifications (notification_id, user_id, type, title, body, data, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		notification.NotificationID,
		notification.UserID,
		notification.Type,
		notification.Title,
		notification.Body,
		data,
		notification.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return notification, nil
}
