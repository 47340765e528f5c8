package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/0xAungkon/RunnerPilot/common/crypto"
)

// RunnerInstance is the persisted configuration of one runner. Live status
// is never stored here; Hostname holds the container ID while a container
// is known to be running and is NULL otherwise.
type RunnerInstance struct {
	ID                string
	RunnerName        string
	SourceURL         string
	RegistrationToken string
	Labels            sql.NullString
	Hostname          sql.NullString
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const instanceColumns = `id, runner_name, source_url, registration_token, labels, hostname, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanInstance(row rowScanner) (*RunnerInstance, error) {
	ri := &RunnerInstance{}
	err := row.Scan(
		&ri.ID, &ri.RunnerName, &ri.SourceURL, &ri.RegistrationToken,
		&ri.Labels, &ri.Hostname, &ri.CreatedAt, &ri.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if crypto.IsSealed(ri.RegistrationToken) {
		if s.sealer == nil {
			return nil, fmt.Errorf("%w: instance %s", ErrTokenSealed, ri.ID)
		}
		if ri.RegistrationToken, err = s.sealer.Open(ri.RegistrationToken); err != nil {
			return nil, fmt.Errorf("instance %s: %w", ri.ID, err)
		}
	}
	return ri, nil
}

// CreateInstance inserts ri. CreatedAt and UpdatedAt are set here.
// A taken runner_name yields ErrDuplicateName.
func (s *Store) CreateInstance(ctx context.Context, ri *RunnerInstance) error {
	now := time.Now().UTC()
	ri.CreatedAt = now
	ri.UpdatedAt = now

	token := ri.RegistrationToken
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(token)
		if err != nil {
			return fmt.Errorf("failed to seal registration token: %w", err)
		}
		token = sealed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runner_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ri.ID, ri.RunnerName, ri.SourceURL, token,
		ri.Labels, ri.Hostname, ri.CreatedAt, ri.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, ri.RunnerName)
	}
	if err != nil {
		return fmt.Errorf("failed to create runner instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID. A missing row yields ErrNotFound.
func (s *Store) GetInstance(ctx context.Context, id string) (*RunnerInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM runner_instances
		WHERE id = ?
	`, id)
	ri, err := s.scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get runner instance: %w", err)
	}
	return ri, nil
}

// ListInstances returns all instances, newest first.
func (s *Store) ListInstances(ctx context.Context) ([]*RunnerInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM runner_instances
		ORDER BY created_at DESC, runner_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runner instances: %w", err)
	}
	defer rows.Close()

	var out []*RunnerInstance
	for rows.Next() {
		ri, err := s.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan runner instance: %w", err)
		}
		out = append(out, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runner instances: %w", err)
	}
	return out, nil
}

// SetHostname records the container ID for an instance. An empty hostname
// stores NULL.
func (s *Store) SetHostname(ctx context.Context, id, hostname string) error {
	value := sql.NullString{String: hostname, Valid: hostname != ""}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runner_instances
		SET hostname = ?, updated_at = ?
		WHERE id = ?
	`, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update hostname: %w", err)
	}
	return expectOneRow(result, id)
}

// DeleteInstance removes an instance record. A missing row yields ErrNotFound.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runner_instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete runner instance: %w", err)
	}
	return expectOneRow(result, id)
}

// CountInstances returns the number of persisted instances.
func (s *Store) CountInstances(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runner_instances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runner instances: %w", err)
	}
	return n, nil
}

func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
