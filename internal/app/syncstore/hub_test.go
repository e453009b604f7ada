package syncstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHub_ReadErrorKeepsWatchAlive(t *testing.T) {
	var calls atomic.Int32
	load := func(ctx context.Context, path string) (Snapshot, error) {
		if calls.Add(1) == 1 {
			return Snapshot{}, errors.New("backend unavailable")
		}
		return Snapshot{Path: path, Children: []Child{{Key: "k", Value: []byte(`{}`)}}}, nil
	}

	h := newHub(load, zerolog.Nop())
	defer h.close()

	rec := newRecorder()
	cancel := h.add("p", rec.onSnapshot, rec.onError)
	defer cancel()

	assert.EqualError(t, rec.nextError(t), "backend unavailable")

	h.notify("p")

	snap := rec.nextSnapshot(t)
	assert.Len(t, snap.Children, 1)
}

func TestHub_CloseCancelsWatches(t *testing.T) {
	release := make(chan struct{})
	load := func(ctx context.Context, path string) (Snapshot, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Snapshot{Path: path}, nil
	}

	h := newHub(load, zerolog.Nop())

	rec := newRecorder()
	h.add("p", rec.onSnapshot, rec.onError)

	h.close()
	close(release)

	select {
	case s := <-rec.snapCh:
		t.Fatalf("snapshot delivered after close: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatch_MarkCoalesces(t *testing.T) {
	w := &watch{dirty: make(chan struct{}, 1)}

	w.mark()
	w.mark()
	w.mark()

	assert.Len(t, w.dirty, 1)
}
