package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drummonds/elibrary/config"
)

func TestEphemeralPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ephemeral PostgreSQL test in short mode")
	}
	// Setup logger for test
	Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	server, sqlDB, err := SetupEphemeralPostgresDatabase(ctx)
	if err != nil {
		t.Skipf("PostgreSQL binaries not available: %v", err)
	}
	defer server.Cleanup()
	defer sqlDB.Close()

	// migrations applied through golang-migrate
	var columns int
	err = sqlDB.QueryRow(`SELECT count(*) FROM information_schema.columns WHERE table_name = 'jobs' AND column_name IN ('source', 'delivered_at')`).Scan(&columns)
	if err != nil {
		t.Fatalf("Failed to inspect schema: %v", err)
	}
	if columns != 2 {
		t.Errorf("Expected both delivery columns, found %d", columns)
	}

	// applying again is a no-op
	if err := migratePostgres(sqlDB); err != nil {
		t.Errorf("Second migration run failed: %v", err)
	}
}

func TestEphemeralRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ephemeral PostgreSQL test in short mode")
	}
	Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

	db, err := NewRepository(config.ServerConfig{DatabaseType: "ephemeral"})
	if err != nil {
		t.Skipf("PostgreSQL binaries not available: %v", err)
	}
	defer db.Close()

	id := ulid.Make()
	if err := db.InsertJob(&Job{ID: id, Type: JobTypeRender, Source: "lesson.pptx"}); err != nil {
		t.Fatalf("Failed to insert job: %v", err)
	}
	if err := db.CompleteJob(id, `{"pages":[]}`); err != nil {
		t.Fatal(err)
	}
	job, err := db.GetJob(id)
	if err != nil {
		t.Fatalf("Failed to retrieve job: %v", err)
	}
	if job.Status != JobStatusCompleted || job.Source != "lesson.pptx" {
		t.Errorf("Unexpected job %+v", job)
	}
}
