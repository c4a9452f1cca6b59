package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/karigar/karigar/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const maxSessionUpdateRetries = 10

var ErrSessionContention = errors.New("otp session is being modified concurrently")

// SessionAction tells OTPSessionStore.Update what to do with the session
// after the callback ran.
type SessionAction int

const (
	SessionKeep SessionAction = iota
	SessionSave
	SessionDelete
)

// OTPSessionStore keeps OTP sessions in Redis as JSON with a TTL. Updates go
// through WATCH/MULTI so concurrent verifies of one session serialize.
type OTPSessionStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewOTPSessionStore(client *redis.Client, logger *logrus.Logger) *OTPSessionStore {
	return &OTPSessionStore{
		client: client,
		logger: logger,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("otp:session:%s", sessionID)
}

func latestSessionKey(phone string, purpose models.OTPPurpose) string {
	return fmt.Sprintf("otp:latest:%s:%s", phone, purpose)
}

// Create stores a new session. It does not become the live session for its
// phone and purpose until Activate is called.
func (s *OTPSessionStore) Create(ctx context.Context, session *models.OTPSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP session: %w", err)
	}

	if err := s.client.SetNX(ctx, sessionKey(session.SessionID), data, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP session in Redis")
		return fmt.Errorf("failed to store OTP session: %w", err)
	}
	return nil
}

// Activate makes session the only live one for its phone and purpose; the
// previously activated session, if any, is removed.
func (s *OTPSessionStore) Activate(ctx context.Context, session *models.OTPSession, ttl time.Duration) error {
	latestKey := latestSessionKey(session.Phone, session.Purpose)

	prevID, err := s.client.SetArgs(ctx, latestKey, session.SessionID, redis.SetArgs{TTL: ttl, Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to activate OTP session: %w", err)
	}

	if prevID != "" && prevID != session.SessionID {
		if err := s.client.Del(ctx, sessionKey(prevID)).Err(); err != nil {
			s.logger.WithError(err).WithField("session_id", prevID).Warn("Failed to invalidate previous OTP session")
		}
	}
	return nil
}

func (s *OTPSessionStore) Get(ctx context.Context, sessionID string) (*models.OTPSession, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP session: %w", err)
	}

	var session models.OTPSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP session: %w", err)
	}

	return &session, nil
}

func (s *OTPSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete OTP session: %w", err)
	}
	return nil
}

// Update loads the session, runs fn and applies the returned action in a
// single optimistic transaction, retrying when another writer got there
// first. The action is committed even when fn returns an error, so a failed
// verification still consumes an attempt; fn's error is returned afterwards.
func (s *OTPSessionStore) Update(ctx context.Context, sessionID string, fn func(*models.OTPSession) (SessionAction, error)) error {
	key := sessionKey(sessionID)

	var fnErr error
	txf := func(tx *redis.Tx) error {
		fnErr = nil

		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var session models.OTPSession
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("failed to unmarshal OTP session: %w", err)
		}

		action, err := fn(&session)
		fnErr = err

		switch action {
		case SessionSave:
			updated, err := json.Marshal(&session)
			if err != nil {
				return fmt.Errorf("failed to marshal OTP session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		case SessionDelete:
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}
		return nil
	}

	for i := 0; i < maxSessionUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return fnErr
	}

	s.logger.WithField("session_id", sessionID).Warn("Gave up updating OTP session after repeated contention")
	return ErrSessionContention
}
