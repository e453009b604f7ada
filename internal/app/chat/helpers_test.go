package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"ykchat/internal/app/storage"
	"ykchat/internal/app/syncstore"
)

var errBackend = errors.New("backend unavailable")

// fakeWatch captures the callbacks of one Watch call.
type fakeWatch struct {
	path       string
	onSnapshot func(syncstore.Snapshot)
	onError    func(error)

	mu        sync.Mutex
	cancelled int
}

func (w *fakeWatch) Cancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled > 0
}

// fakeStore records calls and never invokes callbacks on its own.
type fakeStore struct {
	mu        sync.Mutex
	watches   []*fakeWatch
	appends   []any
	appendErr error
}

func (f *fakeStore) Watch(path string, onSnapshot func(syncstore.Snapshot), onError func(error)) syncstore.CancelFunc {
	w := &fakeWatch{path: path, onSnapshot: onSnapshot, onError: onError}

	f.mu.Lock()
	f.watches = append(f.watches, w)
	f.mu.Unlock()

	return func() {
		w.mu.Lock()
		w.cancelled++
		w.mu.Unlock()
	}
}

func (f *fakeStore) Append(ctx context.Context, path string, value any) (syncstore.AppendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendErr != nil {
		return syncstore.AppendResult{}, f.appendErr
	}

	f.appends = append(f.appends, value)
	return syncstore.AppendResult{Key: fmt.Sprintf("k%d", len(f.appends)), CommittedAt: time.Now()}, nil
}

func (f *fakeStore) Watches() []*fakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeWatch(nil), f.watches...)
}

func (f *fakeStore) AppendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appends)
}

// failingStore wraps a store and fails every Append.
type failingStore struct {
	syncstore.Store
}

func (failingStore) Append(context.Context, string, any) (syncstore.AppendResult, error) {
	return syncstore.AppendResult{}, errBackend
}

// failingBlobs fails every Upload and counts calls.
type failingBlobs struct {
	mu      sync.Mutex
	uploads int
}

func (b *failingBlobs) Upload(context.Context, string, []byte, storage.Metadata) (string, error) {
	b.mu.Lock()
	b.uploads++
	b.mu.Unlock()
	return "", errBackend
}

func (b *failingBlobs) Delete(context.Context, string) error {
	return nil
}

func newMemoryStore(t *testing.T, opts ...syncstore.MemoryOption) *syncstore.MemoryStore {
	t.Helper()
	store := syncstore.NewMemoryStore(opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newBlobStore() *storage.MemoryStore {
	return storage.NewMemoryStore("http://blobs.test")
}

// waitForState polls until cond holds for the session state.
func waitForState(t *testing.T, s *Session, cond func(RoomState) bool) RoomState {
	t.Helper()

	require.Eventually(t, func() bool { return cond(s.State()) }, 2*time.Second, 5*time.Millisecond)
	return s.State()
}

func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	return buf.Bytes()
}
