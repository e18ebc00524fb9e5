package tenantdb

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_appointments.sql", "CREATE TABLE IF NOT EXISTS appointments ()")
	writeMigration(t, dir, "001_patients.sql", "CREATE TABLE IF NOT EXISTS patients ()")
	writeMigration(t, dir, "010_invoices.sql", "CREATE TABLE IF NOT EXISTS invoices ()")
	writeMigration(t, dir, "notes.sql", "-- not a migration")
	writeMigration(t, dir, "README.md", "docs")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}

	if len(migrations) != 3 {
		t.Fatalf("loaded %d migrations, want 3", len(migrations))
	}
	wantOrder := []int{1, 2, 10}
	for i, mig := range migrations {
		if mig.Version != wantOrder[i] {
			t.Errorf("position %d: version %d, want %d", i, mig.Version, wantOrder[i])
		}
	}
	if migrations[0].Name != "001_patients.sql" {
		t.Errorf("first migration = %q", migrations[0].Name)
	}
	if migrations[0].SQL == "" {
		t.Error("migration SQL not loaded")
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	m := NewMigrator(nil, t.TempDir())
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 0 {
		t.Errorf("loaded %d migrations from empty dir", len(migrations))
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	m := NewMigrator(nil, filepath.Join(t.TempDir(), "nope"))
	if _, err := m.LoadMigrations(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
