package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jabber-ai/jabber/internal/store"
)

func TestMemoryStore_PutGet(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	audio := []byte{0x52, 0x49, 0x46, 0x46}
	id, err := s.Put(ctx, audio, "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id == "" {
		t.Fatal("Put returned empty ID")
	}

	clip, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if clip.ID != id {
		t.Errorf("clip ID: got %q, want %q", clip.ID, id)
	}
	if string(clip.Audio) != string(audio) {
		t.Errorf("clip audio: got %v, want %v", clip.Audio, audio)
	}
	if clip.MIMEType != "audio/wav" {
		t.Errorf("clip MIME type: got %q, want %q", clip.MIMEType, "audio/wav")
	}
	if clip.CreatedAt.IsZero() {
		t.Error("clip CreatedAt is zero")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()

	_, err := s.Get(context.Background(), "no-such-clip")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get missing clip: got %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_UniqueIDs(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 100 {
		id, err := s.Put(ctx, []byte("x"), "audio/wav")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate clip ID %q", id)
		}
		seen[id] = true
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	id, err := s.Put(ctx, []byte("x"), "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}

	// Deleting again is a no-op.
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("Delete missing clip: %v", err)
	}
}

func TestMemoryStore_Eviction(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore(store.WithRetention(50 * time.Millisecond))
	ctx := context.Background()

	old, err := s.Put(ctx, []byte("old"), "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	// Eviction runs lazily on the next Put.
	fresh, err := s.Put(ctx, []byte("fresh"), "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.Get(ctx, old); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired clip still retrievable: %v", err)
	}
	if _, err := s.Get(ctx, fresh); err != nil {
		t.Errorf("fresh clip: %v", err)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("stored clips: got %d, want 1", got)
	}
}
