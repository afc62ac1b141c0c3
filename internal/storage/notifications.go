package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// CreateNotification stores a notification. It does not announce it; the
// publisher pushes the insert event itself.
func (s *SQLStore) CreateNotification(ctx context.Context, n *models.Notification) (err error) {
	defer s.observe("create_notification", time.Now(), &err)

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications
			(id, subject_id, subject_name, tags, message, spec_type, spec_alarm, spec_property, recipient, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.SubjectID, n.SubjectName, string(tags), n.Message,
		n.Spec.Type, n.Spec.Alarm, n.Spec.Property, n.Recipient, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

const notificationColumns = `id, subject_id, subject_name, tags, message, spec_type, spec_alarm, spec_property, recipient, created_at`

func scanNotification(sc interface{ Scan(...any) error }) (*models.Notification, error) {
	var (
		n    models.Notification
		tags string
	)
	if err := sc.Scan(&n.ID, &n.SubjectID, &n.SubjectName, &tags, &n.Message,
		&n.Spec.Type, &n.Spec.Alarm, &n.Spec.Property, &n.Recipient, &n.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", n.ID, err)
	}
	return &n, nil
}

// GetNotification returns a stored notification.
func (s *SQLStore) GetNotification(ctx context.Context, id string) (n *models.Notification, err error) {
	defer s.observe("get_notification", time.Now(), &err)

	row := s.db.QueryRowContext(ctx, s.q("SELECT "+notificationColumns+" FROM notifications WHERE id = ?"), id)
	n, err = scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("notification %s: %w", id, ErrNotFound)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

// ListNotifications returns the most recent notifications, newest first.
func (s *SQLStore) ListNotifications(ctx context.Context, limit int) (out []*models.Notification, err error) {
	defer s.observe("list_notifications", time.Now(), &err)

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+notificationColumns+" FROM notifications ORDER BY created_at DESC, id LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateDelivery appends a delivery receipt. Receipts are never updated.
func (s *SQLStore) CreateDelivery(ctx context.Context, d *models.NotificationDelivery) (err error) {
	defer s.observe("create_delivery", time.Now(), &err)

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO notification_deliveries
			(id, user_id, user_login, notification_id, channel, delivery_path, delivered, error, message, config_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.UserID, d.UserLogin, d.NotificationID, string(d.Channel), d.DeliveryPath,
		d.Delivered, d.Error, d.Message, d.ConfigID, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery %s: %w", d.ID, err)
	}
	if s.receipts != nil {
		s.receipts.Add(d)
	}
	return nil
}

// ListDeliveries returns the receipts of a notification in creation order.
func (s *SQLStore) ListDeliveries(ctx context.Context, notificationID string) (out []*models.NotificationDelivery, err error) {
	defer s.observe("list_deliveries", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, user_id, user_login, notification_id, channel, delivery_path, delivered, error, message, config_id, created_at
		FROM notification_deliveries
		WHERE notification_id = ?
		ORDER BY created_at, id`), notificationID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries of %s: %w", notificationID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d  models.NotificationDelivery
			ch string
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.UserLogin, &d.NotificationID, &ch, &d.DeliveryPath,
			&d.Delivered, &d.Error, &d.Message, &d.ConfigID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Channel = models.Channel(ch)
		out = append(out, &d)
	}
	return out, rows.Err()
}
