package syncstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// loadFunc reads the full current content of a path from a backend.
type loadFunc func(ctx context.Context, path string) (Snapshot, error)

// hub fans change notifications out to watches. Each watch owns a goroutine
// that re-reads its path whenever it is marked dirty; marks that arrive while
// a read is pending collapse into one, since the next read sees every commit.
type hub struct {
	load   loadFunc
	logger zerolog.Logger

	// mu protects watches and closed.
	mu      sync.Mutex
	watches map[string]map[*watch]struct{}
	closed  bool
}

type watch struct {
	path       string
	onSnapshot func(Snapshot)
	onError    func(error)

	// dirty holds at most one pending re-read.
	dirty chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newHub(load loadFunc, logger zerolog.Logger) *hub {
	return &hub{
		load:    load,
		logger:  logger,
		watches: make(map[string]map[*watch]struct{}),
	}
}

// add registers a watch on path and schedules its initial read.
func (h *hub) add(path string, onSnapshot func(Snapshot), onError func(error)) CancelFunc {
	cleaned, err := CleanPath(path)
	if err != nil {
		go onError(err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{
		path:       cleaned,
		onSnapshot: onSnapshot,
		onError:    onError,
		dirty:      make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	w.dirty <- struct{}{}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		go onError(ErrClosed)
		return func() {}
	}

	if h.watches[cleaned] == nil {
		h.watches[cleaned] = make(map[*watch]struct{})
	}
	h.watches[cleaned][w] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().Str("path", cleaned).Msg("Watch registered.")

	go h.run(w)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.remove(w)
			cancel()
		})
	}
}

func (h *hub) remove(w *watch) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.watches[w.path]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watches, w.path)
		}
	}

	h.logger.Debug().Str("path", w.path).Msg("Watch cancelled.")
}

func (h *hub) run(w *watch) {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.dirty:
		}

		snap, err := h.load(w.ctx, w.path)
		if w.ctx.Err() != nil {
			return
		}

		if err != nil {
			h.logger.Warn().Err(err).Str("path", w.path).Msg("Snapshot read failed.")
			w.onError(err)
			continue
		}

		w.onSnapshot(snap)
	}
}

// notify marks every watch on path dirty.
func (h *hub) notify(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for w := range h.watches[path] {
		w.mark()
	}
}

// notifyAll marks every watch dirty, used after a backend may have missed notifications.
func (h *hub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, set := range h.watches {
		for w := range set {
			w.mark()
		}
	}
}

// close cancels all watches and rejects new ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, set := range h.watches {
		for w := range set {
			w.cancel()
		}
	}
	h.watches = make(map[string]map[*watch]struct{})
}

func (w *watch) mark() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}
