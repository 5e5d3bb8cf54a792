package storage

import (
	"context"
	"database/sql"
	"testing"

	"shopchat/internal/config"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := Migrate(db, "oracle"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSeedInsertsOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := []config.SeedUser{{Email: "alice@example.com", Balance: 100}, {Email: "bob@example.com", Balance: 50.5}, {Email: " "}}
	if err := Seed(ctx, db, "sqlite3", users); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := db.Exec(`UPDATE users SET balance = 1 WHERE email = 'alice@example.com'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := Seed(ctx, db, "sqlite3", users); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(1) FROM users`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 users, got %d", count)
	}
	var balance float64
	if err := db.QueryRow(`SELECT balance FROM users WHERE email = 'alice@example.com'`).Scan(&balance); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1 {
		t.Fatalf("seed must not overwrite existing balance, got %v", balance)
	}

	if err := Seed(ctx, db, "sqlite3", []config.SeedUser{{Email: "neg@example.com", Balance: -1}}); err == nil {
		t.Fatalf("expected negative balance rejection")
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT id FROM users WHERE email = ? AND note = 'why?' AND balance > ?`
	if got := Postgres.Rebind(q); got != `SELECT id FROM users WHERE email = $1 AND note = 'why?' AND balance > $2` {
		t.Fatalf("unexpected rebind %q", got)
	}
	if got := MySQL.Rebind(q); got != q {
		t.Fatalf("mysql must keep ? placeholders")
	}
	if SQLite.LockClause() != "" || Postgres.LockClause() != " FOR UPDATE" {
		t.Fatalf("unexpected lock clauses")
	}
}

func TestDialectFor(t *testing.T) {
	for in, want := range map[string]Dialect{"sqlite": SQLite, "SQLite3": SQLite, "mysql": MySQL, "pgx": Postgres, "postgres": Postgres} {
		got, err := DialectFor(in)
		if err != nil || got != want {
			t.Fatalf("DialectFor(%q)=%q,%v", in, got, err)
		}
	}
	if _, err := DialectFor("mssql"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestScopedConnection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	scope, err := Scoped(ctx, db, SQLite, "alice@example.com")
	if err != nil {
		t.Fatalf("scoped: %v", err)
	}
	current, err := scope.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current != "alice@example.com" {
		t.Fatalf("unexpected scope %q", current)
	}
	if err := scope.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := scope.Release(ctx); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}

	// the same physical connection comes back with the scope cleared
	next, err := Scoped(ctx, db, SQLite, "")
	if err != nil {
		t.Fatalf("scoped: %v", err)
	}
	defer next.Release(ctx)
	current, err = next.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current != "" {
		t.Fatalf("scope leaked across release: %q", current)
	}
}

func TestInsertIDReturnsRowID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	first, err := SQLite.InsertID(ctx, db, `INSERT INTO users (email, balance) VALUES (?, ?)`, "a@example.com", 1.0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := SQLite.InsertID(ctx, db, `INSERT INTO users (email, balance) VALUES (?, ?)`, "b@example.com", 1.0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second != first+1 {
		t.Fatalf("unexpected ids %d, %d", first, second)
	}
}
