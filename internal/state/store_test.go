package state

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	if _, ok, err := s.LoadChunkSize(ctx); err != nil || ok {
		t.Fatalf("expected no saved chunk size, got ok=%v err=%v", ok, err)
	}
	if err := s.SaveChunkSize(ctx, 2*1024*1024); err != nil {
		t.Fatalf("save chunk size: %v", err)
	}
	size, ok, err := s.LoadChunkSize(ctx)
	if err != nil || !ok || size != 2*1024*1024 {
		t.Fatalf("load chunk size: size=%d ok=%v err=%v", size, ok, err)
	}

	reasons := []string{"closed", "idle", "error", "closed"}
	for i, reason := range reasons {
		rec := SessionRecord{ID: fmt.Sprintf("s%d", i), Started: time.Now(), NearToFar: 10, FarToNear: 20, Reason: reason}
		if err := s.RecordSession(ctx, rec); err != nil {
			t.Fatalf("record session: %v", err)
		}
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Sessions != 4 || st.IdleDisconnects != 1 || st.Errors != 1 {
		t.Errorf("unexpected counters: %+v", st)
	}
	if st.BytesNearToFar != 40 || st.BytesFarToNear != 80 {
		t.Errorf("unexpected byte totals: %d/%d", st.BytesNearToFar, st.BytesFarToNear)
	}
	if len(st.Recent) != 4 || st.Recent[0].ID != "s3" {
		t.Errorf("expected newest session first, got %+v", st.Recent)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreRecentLimit(t *testing.T) {
	s := NewMemory()
	for i := 0; i < RecentLimit+5; i++ {
		_ = s.RecordSession(context.Background(), SessionRecord{ID: fmt.Sprint(i), Reason: "closed"})
	}
	st, _ := s.Stats(context.Background())
	if len(st.Recent) != RecentLimit {
		t.Errorf("expected %d recent sessions, got %d", RecentLimit, len(st.Recent))
	}
	if st.Sessions != int64(RecentLimit+5) {
		t.Errorf("expected %d sessions, got %d", RecentLimit+5, st.Sessions)
	}
}

// TestRedisStore runs against a live server when DIALOUT_TEST_REDIS is set (e.g. localhost:6379).
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("DIALOUT_TEST_REDIS")
	if addr == "" {
		t.Skip("DIALOUT_TEST_REDIS not set")
	}
	ns := fmt.Sprintf("dialout-test-%d", time.Now().UnixNano())
	s, err := NewRedis(addr, "", 0, ns)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	rs := s.(*redisStore)
	defer rs.client.Del(context.Background(), rs.key("stats"), rs.key("recent"), rs.key("chunk_size"))
	exerciseStore(t, s)
}
