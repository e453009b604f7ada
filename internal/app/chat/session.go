/*
Package chat turns a room identifier into a live, ordered view of its messages
and appends new text and image messages.

A Session owns at most one room subscription at a time. Its view is rebuilt in
full from every snapshot the synchronized store pushes; sends never touch the
view directly and only show up once the store has committed them.
*/
package chat

import (
	"context"
	"errors"
	"image"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ykchat/internal/app/storage"
	"ykchat/internal/app/syncstore"
	"ykchat/internal/app/user"
	"ykchat/internal/pkg/errs"
	"ykchat/internal/pkg/logx"
	"ykchat/internal/pkg/randx"
)

const (
	// MaxContentBytes is the maximum size of a text message.
	MaxContentBytes = 5000

	// cleanupTimeout bounds the removal of an orphaned blob.
	cleanupTimeout = 10 * time.Second
)

// ErrSessionClosed is returned by AwaitReady once the session has been closed.
var ErrSessionClosed = errors.New("chat: session closed")

// RoomState is the consumer-facing view of the subscribed room.
type RoomState struct {
	// RoomID is empty while unsubscribed.
	RoomID string `json:"roomId"`

	// Messages is sorted by timestamp. It is replaced, never modified, so
	// callers may keep it.
	Messages []Message `json:"messages"`

	// Loading is true from subscribe until the first snapshot or read error.
	Loading bool `json:"loading"`

	// Err is the last failure, cleared by the next successful operation.
	Err *errs.CustomError `json:"error,omitempty"`
}

// Option configures sessions.
type Option func(*options)

type options struct {
	clock        func() time.Time
	maxImageSize int64
	thumbnails   bool
}

func defaultOptions() options {
	return options{
		clock:        time.Now,
		maxImageSize: DefaultMaxImageSizeMB << 20,
		thumbnails:   true,
	}
}

// WithClock sets the wall clock used for blob keys and for entities stored
// without a timestamp.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithMaxImageSize sets the image size limit in bytes.
func WithMaxImageSize(maxBytes int64) Option {
	return func(o *options) { o.maxImageSize = maxBytes }
}

// WithThumbnails toggles thumbnail generation for image messages.
func WithThumbnails(enabled bool) Option {
	return func(o *options) { o.thumbnails = enabled }
}

// Session is the live view of one room plus the operations that append to it.
// All methods are safe for concurrent use.
type Session struct {
	ID string

	store  syncstore.Store
	blobs  storage.BlobStore
	opts   options
	logger zerolog.Logger

	// mu protects every field below.
	mu     sync.Mutex
	state  RoomState
	cancel syncstore.CancelFunc
	closed bool

	// gen identifies the current subscription; callbacks carrying an older
	// value are dropped.
	gen uint64

	// updates holds at most one pending change signal.
	updates chan struct{}

	onClose func(*Session)
}

// NewSession creates an unsubscribed session.
func NewSession(store syncstore.Store, blobs storage.BlobStore, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()

	return &Session{
		ID:      id,
		store:   store,
		blobs:   blobs,
		opts:    o,
		logger:  logx.Component("chat.session").With().Str("session_id", id).Logger(),
		updates: make(chan struct{}, 1),
	}
}

// State returns the current view.
func (s *Session) State() RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Updates signals after every change of State. Signals coalesce, so a reader
// should call State after each receive. The channel is closed by Close.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Subscribe points the session at roomID. An empty roomID tears down the
// current subscription and leaves the session unsubscribed; the current roomID
// is a no-op. Only malformed room ids return an error.
func (s *Session) Subscribe(roomID string) *errs.CustomError {
	if roomID != "" && !randx.IsValidRoomID(roomID) {
		return errs.NewError(errs.ErrInvalidRoomID)
	}

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil
	}

	if roomID == "" {
		s.teardownLocked()
		s.state = RoomState{}
		s.notifyLocked()
		s.mu.Unlock()
		return nil
	}

	if roomID == s.state.RoomID {
		s.mu.Unlock()
		return nil
	}

	s.teardownLocked()
	s.gen++
	gen := s.gen
	s.state = RoomState{RoomID: roomID, Messages: []Message{}, Loading: true}
	s.notifyLocked()
	s.mu.Unlock()

	s.logger.Debug().Str("room_id", roomID).Msg("Subscribing to room.")

	cancel := s.store.Watch(MessagesPath(roomID),
		func(snap syncstore.Snapshot) { s.handleSnapshot(gen, snap) },
		func(err error) { s.handleWatchError(gen, err) },
	)

	s.mu.Lock()
	if s.gen == gen && !s.closed {
		s.cancel = cancel
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Superseded while Watch was registering.
	cancel()
	return nil
}

// Unsubscribe tears down the current subscription. It is a no-op when none is active.
func (s *Session) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state.RoomID == "" {
		return
	}

	s.teardownLocked()
	s.state = RoomState{}
	s.notifyLocked()
}

// Close tears down the subscription and closes Updates. Further calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.teardownLocked()
	s.closed = true
	close(s.updates)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose(s)
	}

	s.logger.Debug().Msg("Session closed.")
}

// AwaitReady blocks until the subscribed room has left the loading state and
// returns that state. It consumes Updates, so it suits sessions without another
// reader.
func (s *Session) AwaitReady(ctx context.Context) (RoomState, error) {
	for {
		state := s.State()
		if !state.Loading {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case _, ok := <-s.updates:
			if !ok {
				return s.State(), ErrSessionClosed
			}
		}
	}
}

// SendMessage appends a text message to roomID. A blank text or empty roomID
// is skipped. Failures are recorded in State and not returned.
func (s *Session) SendMessage(ctx context.Context, roomID, text string, sender user.User) {
	if roomID == "" || strings.TrimSpace(text) == "" {
		return
	}

	if !randx.IsValidRoomID(roomID) {
		s.setError(errs.NewError(errs.ErrInvalidRoomID))
		return
	}

	if len(text) > MaxContentBytes {
		s.setError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	record := messageRecord{
		Message:    text,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Timestamp:  syncstore.ServerTimestamp,
		Type:       TypeText,
	}

	res, err := s.store.Append(ctx, MessagesPath(roomID), record)
	if err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to append text message.")
		s.setError(errs.NewError(errs.ErrSendMessageFailed))
		return
	}

	s.logger.Debug().Str("room_id", roomID).Str("message_id", res.Key).Msg("Text message committed.")
	s.clearError()
}

// SendImage uploads img and then appends an image message pointing at it. An
// empty roomID or payload is skipped. Failures are recorded in State and also
// returned. When the append fails after a successful upload, the uploaded
// blobs are deleted again.
func (s *Session) SendImage(ctx context.Context, roomID string, img Image, sender user.User) *errs.CustomError {
	if roomID == "" || len(img.Data) == 0 {
		return nil
	}

	if !randx.IsValidRoomID(roomID) {
		return s.fail(errs.NewError(errs.ErrInvalidRoomID))
	}

	info, decoded, cerr := InspectImage(img, s.opts.maxImageSize)
	if cerr != nil {
		return s.fail(cerr)
	}

	logger := s.logger.With().Str("room_id", roomID).Str("file_name", img.FileName).Logger()

	key := storage.ImageKey(storage.PurposeChatImage, roomID, s.opts.clock(), img.FileName)
	meta := storage.Metadata{
		ContentType: info.ContentType,
		Extra: map[string]string{
			"room-id":   roomID,
			"sender-id": sender.ID,
			"width":     strconv.Itoa(info.Width),
			"height":    strconv.Itoa(info.Height),
		},
	}

	imageURL, err := s.blobs.Upload(ctx, key, img.Data, meta)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Image upload failed.")
		return s.fail(errs.NewError(errs.ErrUploadImageFailed))
	}

	uploaded := []string{imageURL}
	thumbURL := s.uploadThumbnail(ctx, logger, key, decoded)
	if thumbURL != "" {
		uploaded = append(uploaded, thumbURL)
	}

	record := messageRecord{
		Message:      ImagePlaceholder,
		SenderID:     sender.ID,
		SenderName:   sender.Name,
		Timestamp:    syncstore.ServerTimestamp,
		Type:         TypeImage,
		ImageURL:     imageURL,
		ThumbnailURL: thumbURL,
		ImageWidth:   info.Width,
		ImageHeight:  info.Height,
	}

	res, err := s.store.Append(ctx, MessagesPath(roomID), record)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to append image message, removing uploaded blobs.")
		s.deleteBlobs(ctx, logger, uploaded)
		return s.fail(errs.NewError(errs.ErrUploadImageFailed))
	}

	logger.Debug().Str("message_id", res.Key).Msg("Image message committed.")
	s.clearError()

	return nil
}

// uploadThumbnail stores a downscaled copy next to key. Failures only lose the
// thumbnail.
func (s *Session) uploadThumbnail(ctx context.Context, logger zerolog.Logger, key string, decoded image.Image) string {
	if !s.opts.thumbnails {
		return ""
	}

	thumb, err := Thumbnail(decoded)
	if err != nil {
		logger.Warn().Err(err).Msg("Thumbnail generation failed.")
		return ""
	}
	if thumb == nil {
		return ""
	}

	url, err := s.blobs.Upload(ctx, key+"_thumb.jpg", thumb, storage.Metadata{ContentType: "image/jpeg"})
	if err != nil {
		logger.Warn().Err(err).Msg("Thumbnail upload failed.")
		return ""
	}

	return url
}

func (s *Session) deleteBlobs(ctx context.Context, logger zerolog.Logger, urls []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, url := range urls {
		if err := s.blobs.Delete(ctx, url); err != nil {
			logger.Error().Err(err).Str("url", url).Msg("Failed to delete orphaned blob.")
		}
	}
}

func (s *Session) handleSnapshot(gen uint64, snap syncstore.Snapshot) {
	messages, skipped := decodeSnapshot(snap, s.opts.clock())
	if skipped > 0 {
		s.logger.Warn().Str("path", snap.Path).Int("skipped", skipped).Msg("Skipped undecodable entities.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.closed {
		return
	}

	s.state.Messages = messages
	s.state.Loading = false
	s.state.Err = nil
	s.notifyLocked()
}

func (s *Session) handleWatchError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.closed {
		return
	}

	s.logger.Warn().Err(err).Str("room_id", s.state.RoomID).Msg("Message subscription read failed.")

	s.state.Loading = false
	s.state.Err = errs.NewError(errs.ErrLoadMessagesFailed)
	s.notifyLocked()
}

func (s *Session) fail(cerr *errs.CustomError) *errs.CustomError {
	s.setError(cerr)
	return cerr
}

func (s *Session) setError(cerr *errs.CustomError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.state.Err = cerr
	s.notifyLocked()
}

func (s *Session) clearError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state.Err == nil {
		return
	}

	s.state.Err = nil
	s.notifyLocked()
}

// teardownLocked cancels the active watch and fences its pending callbacks.
func (s *Session) teardownLocked() {
	s.gen++

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) notifyLocked() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
