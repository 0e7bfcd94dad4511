package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentbridge-backend/internal/domain"
	apperrors "talentbridge-backend/pkg/errors"
)

// DirectoryRepository reads users, channels and channel membership. The call
// service only consumes this data; ownership lives with the identity and
// messaging services.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// GetUser retrieves a user by ID
func (r *DirectoryRepository) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT user_id, email, username, display_name, avatar_url, role, created_at
		FROM users
		WHERE user_id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Email,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetChannel retrieves a channel by ID
func (r *DirectoryRepository) GetChannel(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error) {
	query := `
		SELECT channel_id, workspace_id, name, is_private, created_at
		FROM channels
		WHERE channel_id = $1
	`

	channel := &domain.Channel{}
	err := r.pool.QueryRow(ctx, query, channelID).Scan(
		&channel.ChannelID,
		&channel.WorkspaceID,
		&channel.Name,
		&channel.IsPrivate,
		&channel.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ChannelNotFoundError()
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return channel, nil
}

// UserHasChannelAccess reports whether a user may join calls bound to a channel
func (r *DirectoryRepository) UserHasChannelAccess(ctx context.Context, userID, channelID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM channel_members
			WHERE channel_id = $1 AND user_id = $2
		)
	`

	var hasAccess bool
	if err := r.pool.QueryRow(ctx, query, channelID, userID).Scan(&hasAccess); err != nil {
		return false, fmt.Errorf("failed to check channel access: %w", err)
	}

	return hasAccess, nil
}

// GetChannelMembers retrieves all members of a channel
func (r *DirectoryRepository) GetChannelMembers(ctx context.Context, channelID uuid.UUID) ([]*domain.ChannelMember, error) {
	query := `
		SELECT channel_id, user_id, role, joined_at
		FROM channel_members
		WHERE channel_id = $1
	`

	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel members: %w", err)
	}
	defer rows.Close()

	var members []*domain.ChannelMember
	for rows.Next() {
		m := &domain.ChannelMember{}
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}
