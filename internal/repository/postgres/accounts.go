package postgres

import (
	"context"
	"fmt"
	"strings"

	"recurring-planner/internal/model"
)

// UpsertFromTelegram finds or creates a user by Telegram ID and refreshes the profile.
func (s *Store) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var (
		u  model.User
		id int64
	)
	err := s.pool.QueryRow(ctx, `INSERT INTO users (telegram_id, first_name, last_name, username)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (telegram_id) DO UPDATE SET
			first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			username = EXCLUDED.username, updated_at = now()
		RETURNING id, telegram_id, first_name, last_name, username, created_at, updated_at`,
		telegramID, firstName, lastName, username,
	).Scan(&id, &u.TelegramID, &u.FirstName, &u.LastName, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	u.ID = uint(id)
	return &u, nil
}

// GetOrCreate resolves a category by name for a user. An empty name yields nil.
func (s *Store) GetOrCreate(ctx context.Context, userID uint, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var (
		c  model.Category
		id int64
	)
	// The no-op update makes RETURNING yield the existing row on conflict.
	err := s.pool.QueryRow(ctx, `INSERT INTO categories (user_id, name) VALUES ($1, $2)
		ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at, updated_at`,
		int64(userID), name,
	).Scan(&id, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create category: %w", err)
	}
	c.ID, c.UserID = uint(id), userID
	return &c, nil
}

// Names maps category IDs to names for the given user.
func (s *Store) Names(ctx context.Context, userID uint) (map[uint]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories WHERE user_id = $1 ORDER BY name`, int64(userID))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	names := make(map[uint]string)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		names[uint(id)] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return names, nil
}
