package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BioHazard786/findit/internal/store"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "findit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalPutLoad(t *testing.T) {
	ctx := context.Background()
	j := openTemp(t)

	recs := []store.Record{
		{Path: "calls/a", Collection: "calls", Seq: 1, Fields: store.Fields{
			"offer": store.Fields{"type": "offer", "sdp": "v=0"},
		}},
		{Path: "calls/a/words/currentWord", Collection: "calls/a/words", Seq: 2, Fields: store.Fields{
			"word": "cup", "round": int64(1),
		}},
	}
	for _, r := range recs {
		if err := j.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	// Upsert keeps the original sequence.
	if err := j.Put(ctx, store.Record{Path: "calls/a", Collection: "calls", Seq: 1, Fields: store.Fields{
		"offer":  store.Fields{"type": "offer", "sdp": "v=0"},
		"answer": store.Fields{"type": "answer", "sdp": "v=1"},
	}}); err != nil {
		t.Fatal(err)
	}

	got, err := j.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d records", len(got))
	}
	if got[0].Path != "calls/a" || got[1].Path != "calls/a/words/currentWord" {
		t.Fatalf("unexpected order: %s, %s", got[0].Path, got[1].Path)
	}

	answer, ok := got[0].Fields["answer"].(store.Fields)
	if !ok {
		t.Fatalf("answer not restored as fields: %#v", got[0].Fields["answer"])
	}
	if diff := cmp.Diff(store.Fields{"type": "answer", "sdp": "v=1"}, answer); diff != "" {
		t.Errorf("answer mismatch (-want +got):\n%s", diff)
	}
	if round, _ := got[1].Fields.Int("round"); round != 1 {
		t.Errorf("round = %d", round)
	}
}

func TestJournalBacksMemoryStore(t *testing.T) {
	ctx := context.Background()
	j := openTemp(t)

	m := store.NewMemory(store.WithJournal(j))
	if err := m.Set(ctx, store.ScorePath("a", store.LocalScoreCollection), store.Fields{"score": 2}, true); err != nil {
		t.Fatal(err)
	}

	restored := store.NewMemory(store.WithJournal(j))
	if _, err := restored.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	snap, err := restored.Get(ctx, store.ScorePath("a", store.LocalScoreCollection))
	if err != nil {
		t.Fatal(err)
	}
	if score, _ := snap.Fields.Int("score"); score != 2 {
		t.Fatalf("restored score %d", score)
	}
}

func TestRebind(t *testing.T) {
	j := &Journal{driver: DriverPostgres}
	if got := j.rebind("VALUES (?, ?, ?)"); got != "VALUES ($1, $2, $3)" {
		t.Errorf("postgres rebind = %q", got)
	}
	j.driver = DriverSQLite
	if got := j.rebind("VALUES (?)"); got != "VALUES (?)" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Fatal("expected error")
	}
}
