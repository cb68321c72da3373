package db

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPutAndGetValues(t *testing.T) {
	ctx := context.Background()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	err = PutValues(ctx, db, map[string]json.RawMessage{
		"enabled":  json.RawMessage(`true`),
		"language": json.RawMessage(`"fr"`),
	})
	if err != nil {
		t.Fatalf("PutValues() error = %v", err)
	}

	got, err := GetValues(ctx, db, []string{"enabled", "missing"})
	if err != nil {
		t.Fatalf("GetValues() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetValues returned %d keys, want 1", len(got))
	}
	if string(got["enabled"]) != "true" {
		t.Errorf("enabled = %s, want true", got["enabled"])
	}

	all, err := GetValues(ctx, db, nil)
	if err != nil {
		t.Fatalf("GetValues(nil) error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("GetValues(nil) returned %d keys, want 2", len(all))
	}
}

func TestPutValues_MergesKeys(t *testing.T) {
	ctx := context.Background()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if err := PutValues(ctx, db, map[string]json.RawMessage{"enabled": json.RawMessage(`true`)}); err != nil {
		t.Fatalf("PutValues() error = %v", err)
	}
	if err := PutValues(ctx, db, map[string]json.RawMessage{"autoPaste": json.RawMessage(`true`)}); err != nil {
		t.Fatalf("PutValues() error = %v", err)
	}
	if err := PutValues(ctx, db, map[string]json.RawMessage{"enabled": json.RawMessage(`false`)}); err != nil {
		t.Fatalf("PutValues() error = %v", err)
	}

	got, err := GetValues(ctx, db, nil)
	if err != nil {
		t.Fatalf("GetValues() error = %v", err)
	}
	if string(got["enabled"]) != "false" {
		t.Errorf("enabled = %s, want false", got["enabled"])
	}
	if string(got["autoPaste"]) != "true" {
		t.Errorf("autoPaste = %s, want true", got["autoPaste"])
	}
}

func TestDeleteAllAndCount(t *testing.T) {
	ctx := context.Background()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if err := PutValues(ctx, db, map[string]json.RawMessage{"a": json.RawMessage(`1`), "b": json.RawMessage(`2`)}); err != nil {
		t.Fatalf("PutValues() error = %v", err)
	}
	n, err := CountKeys(ctx, db)
	if err != nil || n != 2 {
		t.Fatalf("CountKeys() = %d, %v; want 2, nil", n, err)
	}

	if err := DeleteAll(ctx, db); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	n, err = CountKeys(ctx, db)
	if err != nil || n != 0 {
		t.Fatalf("CountKeys() = %d, %v; want 0, nil", n, err)
	}
}

func TestDataVersion_ChangesOnForeignCommit(t *testing.T) {
	ctx := context.Background()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer conn.Close()

	before, err := DataVersion(ctx, conn)
	if err != nil {
		t.Fatalf("DataVersion() error = %v", err)
	}

	if err := PutValues(ctx, db, map[string]json.RawMessage{"enabled": json.RawMessage(`false`)}); err != nil {
		t.Fatalf("PutValues() error = %v", err)
	}

	after, err := DataVersion(ctx, conn)
	if err != nil {
		t.Fatalf("DataVersion() error = %v", err)
	}
	if after == before {
		t.Errorf("data_version did not change after a commit on another connection")
	}
}
