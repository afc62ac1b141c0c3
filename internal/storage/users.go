package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// CreateUser stores a user with its notification profiles.
func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) (err error) {
	defer s.observe("create_user", time.Now(), &err)

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO users (id, login, enabled, activated, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Login, u.Enabled, u.Activated, u.Email, u.Phone, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.Login, err)
	}
	for i := range u.Profiles {
		p := &u.Profiles[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO user_profiles (id, user_id, notifications_mode, via_email, via_sms)
			VALUES (?, ?, ?, ?, ?)`),
			p.ID, u.ID, p.NotificationsMode, p.ViaEmail, p.ViaSMS,
		)
		if err != nil {
			return fmt.Errorf("insert profile of %s: %w", u.Login, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListUsers returns every user with its profiles, ordered by login.
func (s *SQLStore) ListUsers(ctx context.Context) (users []*models.User, err error) {
	defer s.observe("list_users", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, login, enabled, activated, email, phone FROM users ORDER BY login")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	byID := make(map[string]*models.User)
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Login, &u.Enabled, &u.Activated, &u.Email, &u.Phone); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
		byID[u.ID] = u
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, notifications_mode, via_email, via_sms FROM user_profiles ORDER BY user_id, id")
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var (
			p      models.UserProfile
			userID string
		)
		if err := prows.Scan(&p.ID, &userID, &p.NotificationsMode, &p.ViaEmail, &p.ViaSMS); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if u, ok := byID[userID]; ok {
			u.Profiles = append(u.Profiles, p)
		}
	}
	return users, prows.Err()
}
