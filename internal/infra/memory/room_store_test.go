package memory

import (
	"context"
	"testing"

	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/hub"

	"github.com/jonboulle/clockwork"
)

func TestRoomStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()

	ok, err := store.Reserve(ctx, "ABC234")
	if err != nil || !ok {
		t.Fatalf("expected reservation, ok=%v err=%v", ok, err)
	}
	if ok, _ := store.Reserve(ctx, "ABC234"); ok {
		t.Fatalf("expected duplicate reservation to fail")
	}

	room := hub.NewRoom("ABC234", domain.Quiz{ID: "quiz-1"}, hub.NewPeer("host", 1), clockwork.NewFakeClock())
	store.Put(room)
	if got, ok := store.Get("ABC234"); !ok || got != room {
		t.Fatalf("expected room present")
	}

	store.Release(ctx, "ABC234")
	if _, ok := store.Get("ABC234"); ok {
		t.Fatalf("expected room removed")
	}
	if ok, _ := store.Reserve(ctx, "ABC234"); !ok {
		t.Fatalf("expected code to be reusable after release")
	}
}
