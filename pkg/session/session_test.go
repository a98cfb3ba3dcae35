package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrust/medlock/pkg/types"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "sessions.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateAndValidate(t *testing.T) {
	m := newTestManager(t, time.Hour)

	s, err := m.Create("user-1", types.RolePatient)
	require.NoError(t, err)
	assert.Len(t, s.Token, 64)
	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, types.RolePatient, s.Role)

	got, err := m.Validate(s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, s.Role, got.Role)
}

func TestTokensAreUnique(t *testing.T) {
	m := newTestManager(t, time.Hour)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := m.Create("user-1", types.RoleDoctor)
		require.NoError(t, err)
		assert.False(t, seen[s.Token])
		seen[s.Token] = true
	}
}

func TestValidateUnknownToken(t *testing.T) {
	m := newTestManager(t, time.Hour)

	_, err := m.Validate("0123456789abcdef")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestExpiredSessionDeletedOnTouch(t *testing.T) {
	m := newTestManager(t, -time.Second)

	s, err := m.Create("user-1", types.RolePatient)
	require.NoError(t, err)

	_, err = m.Validate(s.Token)
	assert.ErrorIs(t, err, ErrExpired)

	// The entry is gone, so a second touch reports no session at all
	_, err = m.Validate(s.Token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDestroy(t *testing.T) {
	m := newTestManager(t, time.Hour)

	s, err := m.Create("user-1", types.RoleDoctor)
	require.NoError(t, err)
	require.NoError(t, m.Destroy(s.Token))

	_, err = m.Validate(s.Token)
	assert.ErrorIs(t, err, ErrNoSession)

	// Logout twice is fine
	assert.NoError(t, m.Destroy(s.Token))
}

func TestDestroyAllForUser(t *testing.T) {
	m := newTestManager(t, time.Hour)

	var tokens []string
	for i := 0; i < 3; i++ {
		s, err := m.Create("target", types.RoleDoctor)
		require.NoError(t, err)
		tokens = append(tokens, s.Token)
	}
	other, err := m.Create("bystander", types.RolePatient)
	require.NoError(t, err)

	removed, err := m.DestroyAllForUser("target")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for _, token := range tokens {
		_, err := m.Validate(token)
		assert.ErrorIs(t, err, ErrNoSession)
	}

	// Other users keep their sessions
	_, err = m.Validate(other.Token)
	assert.NoError(t, err)
}

func TestPruneExpired(t *testing.T) {
	m := newTestManager(t, -time.Second)

	for i := 0; i < 4; i++ {
		_, err := m.Create("user-1", types.RolePatient)
		require.NoError(t, err)
	}

	removed, err := m.PruneExpired()
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSessionsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	m, err := NewManager(path, time.Hour)
	require.NoError(t, err)
	s, err := m.Create("user-1", types.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := NewManager(path, time.Hour)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Validate(s.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, types.RoleAdmin, got.Role)
}

func TestReopenPrunesExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	m, err := NewManager(path, -time.Second)
	require.NoError(t, err)
	_, err = m.Create("user-1", types.RolePatient)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := NewManager(path, time.Hour)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
