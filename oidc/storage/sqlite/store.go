// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package sqlite provides an oidc.UserStore and oidc.TokenStore backed by a
// SQLite database. The schema is migrated on Open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Store implements oidc.UserStore and oidc.TokenStore over SQLite. Times are
// stored as unix nanoseconds in UTC.
type Store struct {
	db      *sql.DB
	version int64
}

var (
	_ oidc.UserStore  = (*Store)(nil)
	_ oidc.TokenStore = (*Store)(nil)
)

// Open opens (creating when needed) the database file at path and applies
// pending migrations.
//
// Supported options: WithLogger
func Open(ctx context.Context, path string, opt ...oidc.Option) (*Store, error) {
	const op = "sqlite.Open"
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: storage path is required: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getStoreOpts(opt...)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open database: %w", op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: unable to reach database: %w", op, err)
	}
	version, err := runMigrations(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts.withLogger.Info("sqlite store ready", "path", path, "schema_version", version)
	return &Store{db: db, version: version}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SchemaVersion returns the schema version applied on Open.
func (s *Store) SchemaVersion() int64 { return s.version }

const userColumns = `id, username, first_name, last_name, email, created_at`

// UserByID implements oidc.UserStore.UserByID.
func (s *Store) UserByID(ctx context.Context, id string) (*oidc.User, error) {
	const op = "sqlite.(Store).UserByID"
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: user %s: %w", op, id, err)
	}
	return u, nil
}

// LookupUser implements oidc.UserStore.LookupUser.
func (s *Store) LookupUser(ctx context.Context, field, value string) (*oidc.User, error) {
	const op = "sqlite.(Store).LookupUser"
	var query string
	switch field {
	case "email":
		query = `SELECT ` + userColumns + ` FROM users WHERE email = ? AND email != ''`
	case "username":
		query = `SELECT ` + userColumns + ` FROM users WHERE username = ? AND username != ''`
	default:
		return nil, fmt.Errorf("%s: unsupported lookup field %q: %w", op, field, oidc.ErrInvalidParameter)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, fmt.Errorf("%s: user with %s %q: %w", op, field, value, err)
	}
	return u, nil
}

// CreateUser implements oidc.UserStore.CreateUser.
func (s *Store) CreateUser(ctx context.Context, u *oidc.User) error {
	const op = "sqlite.(Store).CreateUser"
	if u == nil || u.ID == "" {
		return fmt.Errorf("%s: user id is required: %w", op, oidc.ErrInvalidParameter)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Email, u.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%s: user %s: %w", op, u.ID, oidc.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: unable to insert user: %w", op, err)
	}
	return nil
}

const tokenColumns = `id, user_id, access_token, refresh_token, expires_in, issued_at`

// CreateToken implements oidc.TokenStore.CreateToken.
func (s *Store) CreateToken(ctx context.Context, t *oidc.Token) error {
	const op = "sqlite.(Store).CreateToken"
	if t == nil || t.ID == "" {
		return fmt.Errorf("%s: token id is required: %w", op, oidc.ErrInvalidParameter)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, nullString(t.UserID), string(t.AccessToken), string(t.RefreshToken), t.ExpiresIn, t.IssuedAt.UTC().UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%s: token %s: %w", op, t.ID, oidc.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: unable to insert token: %w", op, err)
	}
	return nil
}

// UpdateToken implements oidc.TokenStore.UpdateToken.
func (s *Store) UpdateToken(ctx context.Context, t *oidc.Token) error {
	const op = "sqlite.(Store).UpdateToken"
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, oidc.ErrNilParameter)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET user_id = ?, access_token = ?, refresh_token = ?, expires_in = ?, issued_at = ? WHERE id = ?`,
		nullString(t.UserID), string(t.AccessToken), string(t.RefreshToken), t.ExpiresIn, t.IssuedAt.UTC().UnixNano(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: unable to update token: %w", op, err)
	}
	return mustAffect(op, res, t.ID)
}

// DeleteToken implements oidc.TokenStore.DeleteToken.
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	const op = "sqlite.(Store).DeleteToken"
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: unable to delete token: %w", op, err)
	}
	return mustAffect(op, res, id)
}

// DeleteUserTokens implements oidc.TokenStore.DeleteUserTokens.
func (s *Store) DeleteUserTokens(ctx context.Context, userID string) (int, error) {
	const op = "sqlite.(Store).DeleteUserTokens"
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: unable to delete tokens: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(n), nil
}

// LatestUserToken implements oidc.TokenStore.LatestUserToken.
func (s *Store) LatestUserToken(ctx context.Context, userID string) (*oidc.Token, error) {
	const op = "sqlite.(Store).LatestUserToken"
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE user_id = ? ORDER BY issued_at DESC, rowid DESC LIMIT 1`,
		userID,
	)
	var (
		t                         oidc.Token
		owner                     sql.NullString
		accessToken, refreshToken string
		issuedAt                  int64
	)
	err := row.Scan(&t.ID, &owner, &accessToken, &refreshToken, &t.ExpiresIn, &issuedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%s: token of user %s: %w", op, userID, oidc.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read token: %w", op, err)
	}
	t.UserID = owner.String
	t.AccessToken = oidc.AccessToken(accessToken)
	t.RefreshToken = oidc.RefreshToken(refreshToken)
	t.IssuedAt = time.Unix(0, issuedAt).UTC()
	return &t, nil
}

func scanUser(row *sql.Row) (*oidc.User, error) {
	var (
		u         oidc.User
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, oidc.ErrNotFound
	case err != nil:
		return nil, err
	}
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	return &u, nil
}

func mustAffect(op string, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: token %s: %w", op, id, oidc.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isConstraintViolation checks for a SQLite UNIQUE or PRIMARY KEY
// constraint violation.
func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

type storeOptions struct {
	withLogger hclog.Logger
}

func storeDefaults() storeOptions {
	return storeOptions{withLogger: hclog.NewNullLogger()}
}

func getStoreOpts(opt ...oidc.Option) storeOptions {
	opts := storeDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for Open.
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
