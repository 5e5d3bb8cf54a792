package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
)

// Scope is a dedicated connection whose session variable app.user_email is
// set to Email for its whole lifetime. An empty Email means no scoping.
type Scope struct {
	Conn    *sql.Conn
	dialect Dialect
	email   string
}

// Scoped acquires a connection from db and scopes it to email before any
// query runs on it. The caller must Release the scope on every path.
func Scoped(ctx context.Context, db *sql.DB, d Dialect, email string) (*Scope, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	s := &Scope{Conn: conn, dialect: d, email: email}
	if err := s.set(ctx, email); err != nil {
		s.discard()
		return nil, fmt.Errorf("scope connection: %w", err)
	}
	return s, nil
}

func (s *Scope) Dialect() Dialect { return s.dialect }

func (s *Scope) Email() string { return s.email }

func (s *Scope) set(ctx context.Context, email string) error {
	switch s.dialect {
	case Postgres:
		_, err := s.Conn.ExecContext(ctx, `SELECT set_config('app.user_email', $1, false)`, email)
		return err
	case MySQL:
		if email == "" {
			_, err := s.Conn.ExecContext(ctx, `SET @app_user_email = NULL`)
			return err
		}
		_, err := s.Conn.ExecContext(ctx, `SET @app_user_email = ?`, email)
		return err
	case SQLite:
		// temp tables are private to the connection
		if _, err := s.Conn.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS app_scope (email TEXT NOT NULL)`); err != nil {
			return err
		}
		if _, err := s.Conn.ExecContext(ctx, `DELETE FROM app_scope`); err != nil {
			return err
		}
		if email == "" {
			return nil
		}
		_, err := s.Conn.ExecContext(ctx, `INSERT INTO app_scope (email) VALUES (?)`, email)
		return err
	default:
		return fmt.Errorf("unsupported dialect: %s", s.dialect)
	}
}

// Current reads the scope back from the connection itself.
func (s *Scope) Current(ctx context.Context) (string, error) {
	var (
		email sql.NullString
		err   error
	)
	switch s.dialect {
	case Postgres:
		err = s.Conn.QueryRowContext(ctx, `SELECT current_setting('app.user_email', true)`).Scan(&email)
	case MySQL:
		err = s.Conn.QueryRowContext(ctx, `SELECT @app_user_email`).Scan(&email)
	case SQLite:
		err = s.Conn.QueryRowContext(ctx, `SELECT email FROM app_scope LIMIT 1`).Scan(&email)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
	default:
		return "", fmt.Errorf("unsupported dialect: %s", s.dialect)
	}
	if err != nil {
		return "", fmt.Errorf("read scope: %w", err)
	}
	return email.String, nil
}

// Release clears the scope and hands the connection back to the pool.
// A connection whose scope could not be cleared is closed instead.
func (s *Scope) Release(ctx context.Context) error {
	if s == nil || s.Conn == nil {
		return nil
	}
	if s.email != "" {
		if err := s.set(ctx, ""); err != nil {
			log.Printf("storage: reset scope failed, discarding connection: %v", err)
			s.discard()
			return fmt.Errorf("reset scope: %w", err)
		}
	}
	err := s.Conn.Close()
	s.Conn = nil
	return err
}

func (s *Scope) discard() {
	_ = s.Conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = s.Conn.Close()
	s.Conn = nil
}
