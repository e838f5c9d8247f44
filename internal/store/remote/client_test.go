package remote

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BioHazard786/findit/internal/docserver"
	"github.com/BioHazard786/findit/internal/store"
)

func dial(t *testing.T) (*Client, *store.Memory) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	st := store.NewMemory(store.WithIDFunc(docserver.NewID))
	hub := docserver.NewHub(st)
	go hub.Run(ctx)
	srv := httptest.NewServer(docserver.Routes(hub, nil))

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		c.Close()
		cancel()
		srv.Close()
		st.Close()
	})
	return c, st
}

func recv(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return store.Snapshot{}
	}
}

func TestClientSetGetMerge(t *testing.T) {
	ctx := context.Background()
	c, _ := dial(t)

	offer := store.Fields{"type": "offer", "sdp": "v=0"}
	if err := c.Set(ctx, "calls/x", store.Fields{"offer": offer}, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "calls/x", store.Fields{"answer": store.Fields{"type": "answer", "sdp": "v=1"}}, true); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Get(ctx, "calls/x")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Exists || snap.ID != "x" {
		t.Fatalf("snapshot %+v", snap)
	}

	var doc struct {
		Offer  struct{ Type, SDP string } `json:"offer"`
		Answer struct{ Type, SDP string } `json:"answer"`
	}
	if err := snap.Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Offer.SDP != "v=0" || doc.Answer.Type != "answer" {
		t.Fatalf("decoded %+v", doc)
	}

	missing, err := c.Get(ctx, "calls/nope")
	if err != nil || missing.Exists {
		t.Fatalf("missing = %+v, %v", missing, err)
	}
}

func TestClientNewDocID(t *testing.T) {
	c, _ := dial(t)
	id, err := c.NewDocID(context.Background(), store.CallsCollection)
	if err != nil {
		t.Fatal(err)
	}
	if len(strings.Split(id, "-")) != 4 {
		t.Fatalf("unexpected call id %q", id)
	}
}

func TestClientWatchCollection(t *testing.T) {
	ctx := context.Background()
	c, st := dial(t)
	coll := store.CandidatesPath("x", store.OfferCandidates)

	if _, err := st.Add(ctx, coll, store.Fields{"candidate": "a"}); err != nil {
		t.Fatal(err)
	}

	ch := make(chan store.Snapshot, 8)
	sub, err := c.WatchCollection(ctx, coll, func(s store.Snapshot) { ch <- s })
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Add(ctx, coll, store.Fields{"candidate": "b"}); err != nil {
		t.Fatal(err)
	}

	var got []string
	for range 2 {
		s, _ := recv(t, ch).Fields.String("candidate")
		got = append(got, s)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}

	sub.Cancel()
	sub.Cancel()
	if _, err := c.Add(ctx, coll, store.Fields{"candidate": "c"}); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-ch:
		t.Fatalf("delivery after cancel: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientWatchDocumentAcrossClients(t *testing.T) {
	ctx := context.Background()
	a, _ := dial(t)
	path := store.ScorePath("x", store.LocalScoreCollection)

	ch := make(chan store.Snapshot, 8)
	sub, err := a.WatchDocument(ctx, path, func(s store.Snapshot) { ch <- s })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	if first := recv(t, ch); first.Exists {
		t.Fatalf("expected missing document first, got %+v", first)
	}
	if err := a.Set(ctx, path, store.Fields{"score": 3}, true); err != nil {
		t.Fatal(err)
	}
	if score, _ := recv(t, ch).Fields.Int("score"); score != 3 {
		t.Fatalf("score = %d", score)
	}
}

func TestClientServerError(t *testing.T) {
	c, _ := dial(t)
	if err := c.Set(context.Background(), "calls", store.Fields{}, false); err == nil {
		t.Fatal("expected error for collection path")
	}
}

func TestClientClosed(t *testing.T) {
	c, _ := dial(t)
	c.Close()
	_, err := c.Get(context.Background(), "calls/x")
	if !errors.Is(err, store.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
