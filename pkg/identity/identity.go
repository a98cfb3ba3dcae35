package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/caretrust/medlock/pkg/log"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/types"
)

var (
	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidEmail indicates the email failed validation.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidRole indicates an unknown role name.
	ErrInvalidRole = errors.New("invalid role")
	// ErrReservedAttribute indicates an attempt to write the derived
	// Role key or the revocation sentinel value.
	ErrReservedAttribute = errors.New("reserved attribute")
	// ErrInvalidAttribute indicates a key or value outside the policy
	// grammar.
	ErrInvalidAttribute = errors.New("invalid attribute")
)

// attrKeyPattern mirrors the policy clause key grammar so every
// stored attribute is matchable by some policy.
var attrKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id       TEXT PRIMARY KEY,
    email         TEXT UNIQUE NOT NULL,
    name          TEXT,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS attributes (
    user_id TEXT NOT NULL,
    key     TEXT NOT NULL,
    value   TEXT NOT NULL,
    PRIMARY KEY (user_id, key),
    FOREIGN KEY (user_id) REFERENCES users(user_id)
);
`

// DB stores user accounts and their policy attributes in SQLite.
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the identity database and applies the
// schema. WAL mode keeps concurrent readers off the writer's lock.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach identity database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate identity database: %w", err)
	}

	metrics.RegisterComponent("identity", true, "user store open")
	return &DB{
		db:     db,
		logger: log.WithComponent("identity"),
	}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// CreateUser registers a new account. The password is stored as an
// argon2id hash, never in the clear.
func (d *DB) CreateUser(email, password string, role types.Role, name string) (*types.User, error) {
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if password == "" {
		return nil, fmt.Errorf("empty password")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &types.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
	}

	_, err = d.db.Exec(
		`INSERT INTO users (user_id, email, name, password_hash, role) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	d.logger.Info().
		Str("user", u.ID).
		Str("role", string(u.Role)).
		Msg("User created")
	return u, nil
}

// VerifyPassword checks a candidate password against the stored hash
// in constant time.
func (d *DB) VerifyPassword(u *types.User, password string) bool {
	return verifyPassword(password, u.PasswordHash)
}

// UserByEmail looks a user up by email.
func (d *DB) UserByEmail(email string) (*types.User, error) {
	return d.scanUser(d.db.QueryRow(
		`SELECT user_id, email, name, password_hash, role FROM users WHERE email = ?`, email))
}

// UserByID looks a user up by id.
func (d *DB) UserByID(id string) (*types.User, error) {
	return d.scanUser(d.db.QueryRow(
		`SELECT user_id, email, name, password_hash, role FROM users WHERE user_id = ?`, id))
}

func (d *DB) scanUser(row *sql.Row) (*types.User, error) {
	var u types.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	u.Role = types.Role(role)
	return &u, nil
}

// SetAttribute upserts one policy attribute. The derived Role key and
// the revocation sentinel value are rejected so no write through this
// surface can ever widen or forge policy state.
func (d *DB) SetAttribute(userID, key, value string) error {
	if strings.EqualFold(key, types.RoleAttributeKey) {
		return fmt.Errorf("%w: key %q is derived from the user role", ErrReservedAttribute, key)
	}
	if value == types.RevokedSentinelValue {
		return fmt.Errorf("%w: value %q is reserved", ErrReservedAttribute, value)
	}
	if !attrKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: bad key %q", ErrInvalidAttribute, key)
	}
	if value == "" || strings.ContainsAny(value, " \t\r\n") {
		return fmt.Errorf("%w: bad value %q", ErrInvalidAttribute, value)
	}

	if err := d.ensureUser(userID); err != nil {
		return err
	}

	_, err := d.db.Exec(
		`INSERT INTO attributes (user_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
		userID, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set attribute: %w", err)
	}

	d.logger.Info().
		Str("user", userID).
		Str("key", key).
		Msg("Attribute set")
	return nil
}

// RemoveAttribute deletes one attribute. Removing an attribute the
// user does not have is not an error; the resulting state is the
// same either way.
func (d *DB) RemoveAttribute(userID, key string) error {
	if strings.EqualFold(key, types.RoleAttributeKey) {
		return fmt.Errorf("%w: key %q is derived from the user role", ErrReservedAttribute, key)
	}
	if err := d.ensureUser(userID); err != nil {
		return err
	}

	_, err := d.db.Exec(`DELETE FROM attributes WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("failed to remove attribute: %w", err)
	}

	d.logger.Info().
		Str("user", userID).
		Str("key", key).
		Msg("Attribute removed")
	return nil
}

func (d *DB) ensureUser(userID string) error {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	return nil
}

// Attributes returns the explicitly stored attributes of a user.
func (d *DB) Attributes(userID string) (map[string]string, error) {
	rows, err := d.db.Query(`SELECT key, value FROM attributes WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attributes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attrs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}
	return attrs, nil
}

// EffectiveAttributes is the bag policies evaluate against: the
// stored attributes plus the derived Role entry. The derived entry
// always wins; the reserved key cannot be written anyway.
func (d *DB) EffectiveAttributes(u *types.User) (map[string]string, error) {
	attrs, err := d.Attributes(u.ID)
	if err != nil {
		return nil, err
	}
	attrs[types.RoleAttributeKey] = u.Role.Attribute()
	return attrs, nil
}

// ListUsers returns every account with its attribute bag, ordered by
// email.
func (d *DB) ListUsers() ([]types.UserInfo, error) {
	rows, err := d.db.Query(`
		SELECT u.user_id, u.email, u.name, u.role, a.key, a.value
		FROM users u
		LEFT JOIN attributes a ON a.user_id = u.user_id
		ORDER BY u.email, a.key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		out     []types.UserInfo
		current *types.UserInfo
	)
	for rows.Next() {
		var (
			id, email, name, role string
			key, value            sql.NullString
		)
		if err := rows.Scan(&id, &email, &name, &role, &key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if current == nil || current.ID != id {
			out = append(out, types.UserInfo{
				ID:         id,
				Email:      email,
				Name:       name,
				Role:       types.Role(role),
				Attributes: make(map[string]string),
			})
			current = &out[len(out)-1]
		}
		if key.Valid {
			current.Attributes[key.String] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return out, nil
}

// CountByRole returns the number of accounts per role.
func (d *DB) CountByRole() (map[string]int, error) {
	rows, err := d.db.Query(`SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[role] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read counts: %w", err)
	}
	return counts, nil
}
