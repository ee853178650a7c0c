package convo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestSQLiteStore(t *testing.T, max int) *SQLiteStore {
	t.Helper()
	dsn := SQLiteDSN(filepath.Join(t.TempDir(), "convo.db"))
	s, err := OpenSQLiteStore(dsn, max)
	if err != nil {
		t.Fatalf("OpenSQLiteStore error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, 10)

	err := s.Append(ctx, "tg:42", Entry{Role: "user", Content: "hello"}, Entry{Role: "assistant", Content: "hi there"})
	if err != nil {
		t.Fatalf("Append error = %v", err)
	}
	got, err := s.Load(ctx, "tg:42", 0)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(got) != 2 || got[0].Role != "user" || got[1].Content != "hi there" {
		t.Fatalf("log = %+v", got)
	}
}

func TestSQLiteStoreBoundedFIFO(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, 4)

	for i := 0; i < 9; i++ {
		if err := s.Append(ctx, "u", Entry{Role: "user", Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Append error = %v", err)
		}
	}
	got, err := s.Load(ctx, "u", 0)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i, want := range []string{"m5", "m6", "m7", "m8"} {
		if got[i].Content != want {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestSQLiteStoreIsolatesIdentities(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, 10)
	_ = s.Append(ctx, "a", Entry{Role: "user", Content: "from-a"})
	_ = s.Append(ctx, "b", Entry{Role: "user", Content: "from-b"})

	got, err := s.Load(ctx, "a", 0)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "from-a" {
		t.Fatalf("log = %+v", got)
	}
}
