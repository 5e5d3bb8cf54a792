package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shopchat/internal/config"
	"shopchat/internal/models"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}
	dialect, err := DialectFor(dbType)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch dialect {
	case SQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", sqliteDSN(dbCfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one writer, and :memory: databases live and die with their connection
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	case MySQL:
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				withParseTime(dbCfg.Params),
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case Postgres:
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
			)
			if dbCfg.Params != "" {
				dsn += "?" + dbCfg.Params
			}
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func withParseTime(params string) string {
	if strings.Contains(params, "parseTime") {
		return params
	}
	if params == "" {
		return "parseTime=true"
	}
	return params + "&parseTime=true"
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	dialect, err := DialectFor(driver)
	if err != nil {
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	var stmts []string
	switch dialect {
	case SQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				email TEXT NOT NULL UNIQUE,
				balance REAL NOT NULL DEFAULT 0 CHECK (balance >= 0)
			)`,
			`CREATE TABLE IF NOT EXISTS orders (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				item TEXT NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity > 0),
				price REAL NOT NULL CHECK (price >= 0),
				created_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
		}
	case MySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				email VARCHAR(255) NOT NULL UNIQUE,
				balance DECIMAL(12,2) NOT NULL DEFAULT 0,
				PRIMARY KEY (id),
				CONSTRAINT chk_users_balance CHECK (balance >= 0)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS orders (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				user_id BIGINT UNSIGNED NOT NULL,
				item VARCHAR(255) NOT NULL,
				quantity INT NOT NULL,
				price DECIMAL(12,2) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_orders_user (user_id),
				CONSTRAINT chk_orders_quantity CHECK (quantity > 0),
				CONSTRAINT chk_orders_price CHECK (price >= 0),
				CONSTRAINT fk_orders_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case Postgres:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				balance NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0)
			)`,
			`CREATE TABLE IF NOT EXISTS orders (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				item TEXT NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity > 0),
				price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
			// rows are visible to everyone while app.user_email is empty,
			// and only to that user once a connection is scoped
			`ALTER TABLE users ENABLE ROW LEVEL SECURITY`,
			`ALTER TABLE users FORCE ROW LEVEL SECURITY`,
			`ALTER TABLE orders ENABLE ROW LEVEL SECURITY`,
			`ALTER TABLE orders FORCE ROW LEVEL SECURITY`,
			`DROP POLICY IF EXISTS users_by_email ON users`,
			`CREATE POLICY users_by_email ON users USING (
				coalesce(current_setting('app.user_email', true), '') = ''
				OR email = current_setting('app.user_email', true)
			)`,
			`DROP POLICY IF EXISTS orders_by_email ON orders`,
			`CREATE POLICY orders_by_email ON orders USING (
				coalesce(current_setting('app.user_email', true), '') = ''
				OR user_id IN (SELECT id FROM users WHERE email = current_setting('app.user_email', true))
			)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// Seed inserts the configured users that are not present yet.
// Existing users keep their balance.
func Seed(ctx context.Context, db *sql.DB, driver string, users []config.SeedUser) error {
	dialect, err := DialectFor(driver)
	if err != nil {
		return err
	}
	for _, u := range users {
		email := strings.TrimSpace(u.Email)
		if email == "" {
			continue
		}
		if u.Balance < 0 {
			return fmt.Errorf("seed user %s: negative balance", email)
		}
		var count int
		if err := db.QueryRowContext(ctx, dialect.Rebind(`SELECT COUNT(1) FROM users WHERE email = ?`), email).Scan(&count); err != nil {
			return fmt.Errorf("seed user %s: %w", email, err)
		}
		if count > 0 {
			continue
		}
		if _, err := dialect.InsertID(ctx, db, `INSERT INTO users (email, balance) VALUES (?, ?)`, email, models.FromFloat(u.Balance).Float()); err != nil {
			return fmt.Errorf("seed user %s: %w", email, err)
		}
	}
	return nil
}
