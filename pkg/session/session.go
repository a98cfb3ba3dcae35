package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/caretrust/medlock/pkg/log"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/types"
)

var (
	// ErrNoSession indicates the token matches no stored session.
	ErrNoSession = errors.New("no such session")
	// ErrExpired indicates the session existed but has timed out.
	ErrExpired = errors.New("session expired")
)

var bucketSessions = []byte("sessions")

// Manager stores login sessions in BoltDB, keyed by token. Sessions
// survive a process restart; a stale database only ever errs toward
// expiry, never toward granting.
type Manager struct {
	db     *bolt.DB
	ttl    time.Duration
	stopCh chan struct{}
	logger zerolog.Logger
}

// NewManager opens (or creates) the session database and prunes any
// sessions that expired while the process was down.
func NewManager(dbPath string, ttl time.Duration) (*Manager, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}

	m := &Manager{
		db:     db,
		ttl:    ttl,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("session"),
	}
	if _, err := m.PruneExpired(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// StartSweeper begins pruning expired sessions every quarter TTL, so
// sessions that are never touched again still get cleaned up.
func (m *Manager) StartSweeper() {
	ticker := time.NewTicker(m.ttl / 4)
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := m.PruneExpired(); err != nil {
					m.logger.Warn().Err(err).Msg("Session sweep failed")
				}
			case <-m.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// StopSweeper stops the sweeper.
func (m *Manager) StopSweeper() {
	close(m.stopCh)
}

// Close closes the database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create issues a fresh session for a user. Tokens are 32 random
// bytes hex-encoded; guessing one is not a practical attack.
func (m *Manager) Create(userID string, role types.Role) (types.Session, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return types.Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	s := types.Session{
		Token:     hex.EncodeToString(raw),
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return b.Put([]byte(s.Token), data)
	})
	if err != nil {
		return types.Session{}, fmt.Errorf("failed to store session: %w", err)
	}

	metrics.SessionsActive.Inc()
	m.logger.Debug().Str("user", userID).Msg("Session created")
	return s, nil
}

// Validate resolves a token to its session. Expired sessions are
// deleted on touch and reported as ErrExpired.
func (m *Manager) Validate(token string) (types.Session, error) {
	var s types.Session
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(token))
		if data == nil {
			return ErrNoSession
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return types.Session{}, ErrNoSession
		}
		return types.Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	if s.Expired(time.Now()) {
		if err := m.Destroy(token); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to delete expired session")
		}
		return types.Session{}, ErrExpired
	}
	return s, nil
}

// Destroy removes one session. Destroying an unknown token is a
// no-op; logout must be idempotent.
func (m *Manager) Destroy(token string) error {
	removed := false
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(token)) != nil {
			removed = true
		}
		return b.Delete([]byte(token))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if removed {
		metrics.SessionsActive.Dec()
	}
	return nil
}

// DestroyAllForUser removes every session belonging to a user, e.g.
// after an account-wide revocation.
func (m *Manager) DestroyAllForUser(userID string) (int, error) {
	removed := 0
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var s types.Session
			if err := json.Unmarshal(v, &s); err != nil {
				// Unreadable entries are dead weight; drop them too.
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if s.UserID == userID {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	metrics.SessionsActive.Sub(float64(removed))
	if removed > 0 {
		m.logger.Info().Str("user", userID).Int("count", removed).Msg("Sessions destroyed")
	}
	return removed, nil
}

// PruneExpired removes every expired session and returns how many
// were dropped.
func (m *Manager) PruneExpired() (int, error) {
	now := time.Now()
	removed := 0
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var s types.Session
			if err := json.Unmarshal(v, &s); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if s.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}

	if removed > 0 {
		metrics.SessionsActive.Sub(float64(removed))
		m.logger.Debug().Int("count", removed).Msg("Pruned expired sessions")
	}
	return removed, nil
}

// Count returns the number of stored sessions, expired or not.
func (m *Manager) Count() (int, error) {
	n := 0
	err := m.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSessions).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}
