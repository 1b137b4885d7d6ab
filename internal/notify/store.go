package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitebill/sitebill/internal/shared"
)

// Stored is a persisted notification.
type Stored struct {
	ID        int64     `json:"id"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	Notification
}

// Store persists notifications in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs the store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save inserts n and returns its id.
func (s *Store) Save(ctx context.Context, n Notification) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("notification store not initialised")
	}
	if err := n.Validate(); err != nil {
		return 0, err
	}
	var user *uuid.UUID
	if n.UserID != uuid.Nil {
		user = &n.UserID
	}
	var link *string
	if n.Link != "" {
		link = &n.Link
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, title, message, severity, link) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		user, n.Title, n.Message, string(n.Severity), link,
	).Scan(&id)
	return id, err
}

// ListUnread returns the newest unread notifications for user, including broadcasts.
func (s *Store) ListUnread(ctx context.Context, user uuid.UUID, limit int) ([]Stored, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(user_id, '00000000-0000-0000-0000-000000000000'::uuid), title, message, severity, COALESCE(link, ''), read, created_at
		 FROM notifications
		 WHERE read = FALSE AND (user_id = $1 OR user_id IS NULL)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stored
	for rows.Next() {
		var (
			n        Stored
			severity string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &severity, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Severity = Severity(severity)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags a notification as read.
func (s *Store) MarkRead(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
