/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"crossrail/internal/models"
	"crossrail/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateSession enforces the single-active-session rule: any prior sessions
// for the user are deleted in the same transaction that inserts the new one.
// Expiry is fixed at now + ttl and never moves afterward.
func (s *Service) CreateSession(ctx context.Context, userId string, step models.SessionStep, ttl time.Duration) (*models.OfframpSession, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("invalid session step %q", step)
	}

	now := time.Now().UTC()
	session := &models.OfframpSession{
		Id:        uuid.New().String(),
		UserId:    userId,
		Step:      step,
		Data:      map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryDeleteUserSessions, userId); err != nil {
		return nil, fmt.Errorf("failed to delete prior sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryInsertSession,
		session.Id, session.UserId, string(session.Step), "{}",
		session.CreatedAt, session.UpdatedAt, session.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session creation: %w", err)
	}

	zap.L().Info("Created off-ramp session",
		zap.String("session_id", session.Id),
		zap.String("user_id", userId),
		zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

// UpdateSession merges partial data into the session and advances the step.
// An expired session returns ErrSessionExpired so the caller knows a fresh
// CreateSession is needed rather than a retry.
func (s *Service) UpdateSession(ctx context.Context, id string, step models.SessionStep, partial map[string]string) (*models.OfframpSession, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("invalid session step %q", step)
	}

	session, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now().UTC()) {
		return nil, store.ErrSessionExpired
	}

	for k, v := range partial {
		session.Data[k] = v
	}
	session.Step = step
	session.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(session.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session data: %w", err)
	}

	result, err := s.db.ExecContext(ctx, queryUpdateSession,
		string(session.Step), string(data), session.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Deleted between read and write, by a sweep or a ClearSession.
		return nil, store.ErrNotFound
	}
	return session, nil
}

func (s *Service) GetActiveSession(ctx context.Context, userId string) (*models.OfframpSession, error) {
	row := s.db.QueryRowContext(ctx, queryGetActiveSession, userId, time.Now().UTC())

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

func (s *Service) ClearSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteSession, id); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *Service) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryDeleteExpiredSessions, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func (s *Service) getSession(ctx context.Context, id string) (*models.OfframpSession, error) {
	row := s.db.QueryRowContext(ctx, queryGetSession, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func scanSession(row rowScanner) (*models.OfframpSession, error) {
	var session models.OfframpSession
	var dataStr string

	err := row.Scan(&session.Id, &session.UserId, &session.Step, &dataStr,
		&session.CreatedAt, &session.UpdatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dataStr), &session.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	if session.Data == nil {
		session.Data = map[string]string{}
	}
	return &session, nil
}
