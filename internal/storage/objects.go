package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

const upsertProperty = `
	INSERT INTO object_properties (object_id, group_name, property, value, transaction_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (object_id, group_name, property) DO UPDATE SET
		value = excluded.value,
		transaction_id = excluded.transaction_id,
		updated_at = excluded.updated_at
	WHERE object_properties.transaction_id < excluded.transaction_id`

func encodeValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode property value: %w", err)
	}
	return string(data), nil
}

func decodeValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		// Not JSON: keep the raw text.
		return s
	}
	return v
}

// CreateObject provisions an object with its tags and initial properties.
func (s *SQLStore) CreateObject(ctx context.Context, spec ObjectSpec) (err error) {
	defer s.observe("create_object", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		s.q("INSERT INTO objects (id, name, enabled, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"),
		spec.ID, spec.Name, spec.Enabled, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert object %s: %w", spec.ID, err)
	}
	for _, tag := range spec.Tags {
		if _, err = tx.ExecContext(ctx, s.q("INSERT INTO object_tags (object_id, tag) VALUES (?, ?)"), spec.ID, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	for _, p := range spec.Properties {
		val, encErr := encodeValue(p.Value)
		if encErr != nil {
			err = encErr
			return err
		}
		if _, err = tx.ExecContext(ctx, s.q(upsertProperty), spec.ID, p.Group, p.Property, val, 0, now); err != nil {
			return fmt.Errorf("insert property %s/%s: %w", p.Group, p.Property, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteObject removes an object with its tags, properties and links.
func (s *SQLStore) DeleteObject(ctx context.Context, id string) (err error) {
	defer s.observe("delete_object", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM objects WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("object %s: %w", id, ErrNotFound)
		return err
	}
	return nil
}

// Link makes child a linked child of parent.
func (s *SQLStore) Link(ctx context.Context, parentID, childID string) (err error) {
	defer s.observe("link", time.Now(), &err)

	_, err = s.db.ExecContext(ctx,
		s.q("INSERT INTO object_links (parent_id, child_id) VALUES (?, ?) ON CONFLICT DO NOTHING"),
		parentID, childID,
	)
	if err != nil {
		return fmt.Errorf("link %s -> %s: %w", parentID, childID, err)
	}
	return nil
}

// Unlink removes a parent/child link.
func (s *SQLStore) Unlink(ctx context.Context, parentID, childID string) (err error) {
	defer s.observe("unlink", time.Now(), &err)

	_, err = s.db.ExecContext(ctx, s.q("DELETE FROM object_links WHERE parent_id = ? AND child_id = ?"), parentID, childID)
	if err != nil {
		return fmt.Errorf("unlink %s -> %s: %w", parentID, childID, err)
	}
	return nil
}

// GetObject returns an object with its tags and properties.
func (s *SQLStore) GetObject(ctx context.Context, id string) (obj *models.Object, err error) {
	defer s.observe("get_object", time.Now(), &err)
	return s.getObject(ctx, s.db, id)
}

func (s *SQLStore) getObject(ctx context.Context, q queryer, id string) (*models.Object, error) {
	obj := &models.Object{ID: id, Properties: make(map[models.PropertyKey]any)}
	err := q.QueryRowContext(ctx,
		s.q("SELECT name, enabled, updated_at FROM objects WHERE id = ?"), id,
	).Scan(&obj.Name, &obj.Enabled, &obj.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}

	tags, err := q.QueryContext(ctx, s.q("SELECT tag FROM object_tags WHERE object_id = ? ORDER BY tag"), id)
	if err != nil {
		return nil, fmt.Errorf("get tags of %s: %w", id, err)
	}
	defer tags.Close()
	for tags.Next() {
		var tag string
		if err := tags.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		obj.Tags = append(obj.Tags, tag)
	}
	if err := tags.Err(); err != nil {
		return nil, err
	}

	props, err := q.QueryContext(ctx, s.q("SELECT group_name, property, value FROM object_properties WHERE object_id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("get properties of %s: %w", id, err)
	}
	defer props.Close()
	for props.Next() {
		var group, property, raw string
		if err := props.Scan(&group, &property, &raw); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		obj.Properties[models.Key(group, property)] = decodeValue(raw)
	}
	return obj, props.Err()
}

// ListObjects returns every object carrying all of tags. No tags lists all
// objects.
func (s *SQLStore) ListObjects(ctx context.Context, tags []string) (objs []*models.Object, err error) {
	defer s.observe("list_objects", time.Now(), &err)

	ids, err := s.objectIDsByTags(ctx, tags)
	if err != nil {
		return nil, err
	}
	objs = make([]*models.Object, 0, len(ids))
	for _, id := range ids {
		obj, err := s.getObject(ctx, s.db, id)
		if errors.Is(err, ErrNotFound) {
			continue // deleted meanwhile
		}
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Snapshot returns the current objects carrying all of tags, used to
// bootstrap subscriptions.
func (s *SQLStore) Snapshot(ctx context.Context, tags []string) ([]*models.Object, error) {
	return s.ListObjects(ctx, tags)
}

func (s *SQLStore) objectIDsByTags(ctx context.Context, tags []string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(tags) == 0 {
		rows, err = s.db.QueryContext(ctx, "SELECT id FROM objects ORDER BY id")
	} else {
		args := make([]any, 0, len(tags)+1)
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
		query := fmt.Sprintf(`
			SELECT object_id FROM object_tags
			WHERE tag IN (%s)
			GROUP BY object_id
			HAVING COUNT(DISTINCT tag) = ?
			ORDER BY object_id`, placeholders(len(tags)))
		rows, err = s.db.QueryContext(ctx, s.q(query), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list objects by tags %s: %w", strings.Join(tags, ","), err)
	}
	return scanStrings(rows)
}

// ParentIDs returns the ids of the objects child is linked under.
func (s *SQLStore) ParentIDs(ctx context.Context, childID string) (ids []string, err error) {
	defer s.observe("parent_ids", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, s.q("SELECT parent_id FROM object_links WHERE child_id = ? ORDER BY parent_id"), childID)
	if err != nil {
		return nil, fmt.Errorf("parents of %s: %w", childID, err)
	}
	return scanStrings(rows)
}

func (s *SQLStore) childIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT child_id FROM object_links WHERE parent_id = ? ORDER BY child_id"), parentID)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", parentID, err)
	}
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateProperties writes props on objectID in one transaction. A property
// whose stored transaction stamp is not older than txID is left untouched.
// Changed properties are announced through the emitter when one is set.
func (s *SQLStore) UpdateProperties(ctx context.Context, objectID string, txID int64, props []models.PropertyValue) (err error) {
	defer s.observe("update_properties", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.q("SELECT 1 FROM objects WHERE id = ?"), objectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("object %s: %w", objectID, ErrNotFound)
		return err
	}
	if err != nil {
		return fmt.Errorf("check object %s: %w", objectID, err)
	}

	now := time.Now().UTC()
	var changed []models.PropertyValue
	for _, p := range props {
		val, encErr := encodeValue(p.Value)
		if encErr != nil {
			err = encErr
			return err
		}
		res, execErr := tx.ExecContext(ctx, s.q(upsertProperty), objectID, p.Group, p.Property, val, txID, now)
		if execErr != nil {
			err = fmt.Errorf("upsert %s/%s: %w", p.Group, p.Property, execErr)
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed = append(changed, p)
		}
	}
	if len(changed) > 0 {
		if _, err = tx.ExecContext(ctx, s.q("UPDATE objects SET updated_at = ? WHERE id = ?"), now, objectID); err != nil {
			return fmt.Errorf("touch object %s: %w", objectID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if len(changed) == 0 {
		s.logger.Debug("stale property write ignored", zap.String("entity_id", objectID), zap.Int64("transaction_id", txID))
		return nil
	}
	s.emitChanges(ctx, objectID, changed, now)
	return nil
}

func (s *SQLStore) emitChanges(ctx context.Context, objectID string, changed []models.PropertyValue, at time.Time) {
	if s.emitter == nil {
		return
	}
	obj, err := s.getObject(ctx, s.db, objectID)
	if err != nil {
		s.logger.Warn("cannot announce property change", zap.String("entity_id", objectID), zap.Error(err))
		return
	}
	owner := models.ObjectPayload{ID: obj.ID, Name: obj.Name, Enabled: obj.Enabled, Tags: obj.Tags}
	for _, p := range changed {
		ev := models.Event{
			Kind:  models.EventUpdate,
			Shape: models.ShapeProperty,
			Property: &models.PropertyPayload{
				ID:        objectID + "/" + p.Group + "/" + p.Property,
				ObjectID:  objectID,
				Group:     p.Group,
				Property:  p.Property,
				Value:     p.Value,
				UpdatedAt: at,
				Object:    owner,
			},
		}
		if err := s.emitter.Publish(ctx, s.changeTopic, ev); err != nil {
			s.logger.Warn("announce property change failed",
				zap.String("entity_id", objectID),
				zap.String("property", p.Group+"/"+p.Property),
				zap.Error(err),
			)
		}
	}
}
