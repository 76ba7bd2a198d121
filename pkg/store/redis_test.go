package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	s, err := NewRedisStore(RedisConfig{Addr: addr}, nil)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	user := "test-" + uuid.NewString()
	defer s.rc.Del(Key(user))

	if err := s.Save(ctx, user, sampleRecord("a", "casual", 70)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, user, sampleRecord("b", "casual", 50)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	records, err := s.ListAll(ctx, user)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(records) != 2 || records[0].ID != "a" {
		t.Fatalf("records = %+v", records)
	}

	avg, ok, err := s.BaselineAverage(ctx, user, "casual")
	if err != nil || !ok || avg != 60 {
		t.Errorf("BaselineAverage() = %v, %v, %v", avg, ok, err)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1"}, nil); err == nil {
		t.Error("NewRedisStore() expected error for unreachable server")
	}
}
