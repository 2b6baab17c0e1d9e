package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/domain"
)

func TestDocumentStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewDocumentStore(newClient(mr), logrus.New())

	if err := store.Set(ctx, "quizSessions", "alice_pre_20240310", domain.Document{"answers": []any{1, nil}, "score": 0}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "quizSessions", "alice_pre_20240310", domain.Document{"score": 1}, true); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !mr.Exists("doc:quizSessions:alice_pre_20240310") {
		t.Fatalf("expected document key")
	}

	doc, ok, err := store.Get(ctx, "quizSessions", "alice_pre_20240310")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if doc.Int("score") != 1 {
		t.Fatalf("expected merged score 1, got %v", doc["score"])
	}
	answers := domain.DecodeAnswers(doc["answers"])
	if len(answers) != 2 || answers[0] != 1 || answers[1] != domain.NoAnswer {
		t.Fatalf("answers lost in merge: %v", answers)
	}

	if _, ok, _ := store.Get(ctx, "quizSessions", "nobody"); ok {
		t.Fatalf("expected missing document")
	}
	exists, err := store.Exists(ctx, "quizSessions", "alice_pre_20240310")
	if err != nil || !exists {
		t.Fatalf("exists: %v %v", exists, err)
	}
}

func TestDocumentStoreListByPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewDocumentStore(newClient(mr), logrus.New())
	for _, key := range []string{"bob_pre_20240310", "alice_post_20240311", "alice_pre_20240310", "alice"} {
		if err := store.Set(ctx, "quizSessions", key, domain.Document{"k": key}, false); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	snaps, err := store.List(ctx, "quizSessions", "alice_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 2 || snaps[0].Key != "alice_post_20240311" || snaps[1].Key != "alice_pre_20240310" {
		t.Fatalf("unexpected prefix listing %+v", snaps)
	}

	all, _ := store.List(ctx, "quizSessions", "")
	if len(all) != 4 {
		t.Fatalf("expected 4 documents, got %d", len(all))
	}

	if err := store.Delete(ctx, "quizSessions", "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, _ = store.List(ctx, "quizSessions", "")
	if len(all) != 3 {
		t.Fatalf("expected 3 documents after delete, got %d", len(all))
	}
}

func TestDocumentStoreSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewDocumentStore(newClient(mr), logrus.New())
	_ = store.Set(ctx, "quizSessions", "k1", domain.Document{"a": 1}, false)

	changes := make(chan domain.Change, 16)
	cancel, err := store.Subscribe(ctx, "quizSessions", func(c domain.Change) { changes <- c })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if c := next(t, changes); c.Key != "k1" || c.Doc.Int("a") != 1 {
		t.Fatalf("unexpected initial change %+v", c)
	}

	_ = store.Set(ctx, "quizSessions", "k2", domain.Document{"a": 2}, false)
	if c := next(t, changes); c.Key != "k2" || c.Deleted {
		t.Fatalf("unexpected change %+v", c)
	}

	_ = store.Delete(ctx, "quizSessions", "k1")
	if c := next(t, changes); c.Key != "k1" || !c.Deleted {
		t.Fatalf("expected deletion, got %+v", c)
	}
}

func next(t *testing.T, changes <-chan domain.Change) domain.Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no change delivered")
	}
	return domain.Change{}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
