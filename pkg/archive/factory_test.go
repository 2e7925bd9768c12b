package archive

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStoreFromEnvDefault(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("ARCHIVE_BACKEND", "")
	t.Setenv("ARCHIVE_DIR", tmp)

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv: %v", err)
	}

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}
	if want := filepath.Join(tmp, "archive"); fs.dir != want {
		t.Errorf("dir = %s, want %s", fs.dir, want)
	}
}

func TestNewStoreFromEnvS3MissingBucket(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "s3")
	t.Setenv("ARCHIVE_S3_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ARCHIVE_S3_BUCKET is required") {
		t.Fatalf("expected a missing-bucket error, got %v", err)
	}
}

func TestNewStoreFromEnvGCSMissingBucket(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "gcs")
	t.Setenv("ARCHIVE_GCS_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected an error for a missing GCS bucket")
	}
	// Without the gcp build tag the backend is disabled outright, which
	// is also a valid failure.
	if strings.Contains(err.Error(), "not enabled in this build") {
		return
	}
	if !strings.Contains(err.Error(), "ARCHIVE_GCS_BUCKET is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewStoreFromEnvUnsupported(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "azure")

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported archive backend") {
		t.Fatalf("expected an unsupported-backend error, got %v", err)
	}
}
