//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tabulae/tabulae/internal/catalog"
	catalogpostgres "github.com/tabulae/tabulae/internal/catalog/postgres"
)

func TestRunnerAppliesCatalogSchemaAndRollsBack(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("TABULAE_TEST_CATALOG_DSN"))
	if adminDSN == "" {
		t.Skip("TABULAE_TEST_CATALOG_DSN is not set")
	}

	testDSN, cleanup := createScratchDatabase(t, adminDSN)
	defer cleanup()

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	runner := NewRunner()
	applied, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	if applied != 2 {
		t.Fatalf("runner.Up() applied %d migrations, want 2", applied)
	}
	assertCatalogTable(t, db, true)

	repo := catalogpostgres.NewRepository(db)
	if err := catalog.RecordSuccess(ctx, repo, "museums", "SELECT 1", 1700000000123456); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}
	if err := catalog.RecordSuccess(ctx, repo, "museums", "SELECT 2", 1700000000999999); err != nil {
		t.Fatalf("RecordSuccess(again) error = %v", err)
	}
	entry, err := repo.Get(ctx, "museums")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Query != "SELECT 2" || entry.MtimeMicros != 1700000000999999 {
		t.Fatalf("entry = %#v", entry)
	}

	rolledBack, err := runner.Down(ctx, db, 2)
	if err != nil {
		t.Fatalf("runner.Down() error = %v", err)
	}
	if rolledBack != 2 {
		t.Fatalf("runner.Down() rolled back %d migrations, want 2", rolledBack)
	}
	assertCatalogTable(t, db, false)
}

func createScratchDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("tabulae_it_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	scratch := *parsed
	scratch.Path = "/" + name
	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate scratch db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return scratch.String(), cleanup
}

func assertCatalogTable(t *testing.T, db *sql.DB, expected bool) {
	t.Helper()

	var count int
	query := `SELECT COUNT(*) FROM pg_tables WHERE schemaname = 'tabulae' AND tablename = 'sparql_queries'`
	if err := db.QueryRow(query).Scan(&count); err != nil {
		t.Fatalf("query catalog table existence failed: %v", err)
	}
	if exists := count > 0; exists != expected {
		t.Fatalf("catalog table exists = %v, want %v", exists, expected)
	}
}
