package chat

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ykchat/internal/app/syncstore"
	"ykchat/internal/app/user"
	"ykchat/internal/pkg/errs"
)

var alice = user.User{ID: "u1", Name: "Alice"}

func TestSession_SubscribeSeededRoom(t *testing.T) {
	store := newMemoryStore(t)
	require.NoError(t, store.Put(MessagesPath("room42"), "m1", map[string]any{
		"message":    "hi",
		"senderId":   "u1",
		"senderName": "Alice",
		"timestamp":  "2024-01-01T00:00:00Z",
		"type":       "text",
	}))

	s := NewSession(store, newBlobStore())
	defer s.Close()

	require.Nil(t, s.Subscribe("room42"))

	state, err := s.AwaitReady(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "room42", state.RoomID)
	assert.False(t, state.Loading)
	assert.Nil(t, state.Err)
	require.Len(t, state.Messages, 1)

	msg := state.Messages[0]
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Message)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, TypeText, msg.Type)
	assert.True(t, msg.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, msg.ImageURL)
}

func TestSession_SubscribeEmptyRoom(t *testing.T) {
	s := NewSession(newMemoryStore(t), newBlobStore())
	defer s.Close()

	require.Nil(t, s.Subscribe("empty"))
	assert.True(t, s.State().Loading)

	state, err := s.AwaitReady(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, state.Messages)
	assert.Empty(t, state.Messages)
	assert.False(t, state.Loading)
	assert.Nil(t, state.Err)
}

func TestSession_MissingTimestampsAreDefaulted(t *testing.T) {
	store := newMemoryStore(t)
	path := MessagesPath("r1")

	require.NoError(t, store.Put(path, "a", map[string]any{"message": "no ts 1"}))
	require.NoError(t, store.Put(path, "b", map[string]any{"message": "late", "timestamp": 4102444800000}))
	require.NoError(t, store.Put(path, "c", map[string]any{"message": "no ts 2", "timestamp": nil}))
	require.NoError(t, store.Put(path, "d", map[string]any{"message": "early", "timestamp": 1000}))
	require.NoError(t, store.Put(path, "e", map[string]any{"message": "garbage ts", "timestamp": "yesterday"}))

	now := time.UnixMilli(1700000000000)
	s := NewSession(store, newBlobStore(), WithClock(func() time.Time { return now }))
	defer s.Close()

	require.Nil(t, s.Subscribe("r1"))
	state, err := s.AwaitReady(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Messages, 5)

	assert.True(t, slices.IsSortedFunc(state.Messages, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	}))

	ids := make([]string, 0, len(state.Messages))
	for _, m := range state.Messages {
		assert.False(t, m.Timestamp.IsZero(), m.ID)
		ids = append(ids, m.ID)
	}

	// Defaulted entities share the read time and keep store order among themselves.
	assert.Equal(t, []string{"d", "a", "c", "e", "b"}, ids)
	assert.True(t, state.Messages[1].Timestamp.Equal(now))
}

func TestSession_BlankTextNeverWrites(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	ctx := context.Background()
	s.SendMessage(ctx, "room42", "  ", alice)
	s.SendMessage(ctx, "room42", "\n\t ", alice)
	s.SendMessage(ctx, "room42", "", alice)
	s.SendMessage(ctx, "", "hello", alice)

	assert.Equal(t, 0, store.AppendCount())
	assert.Nil(t, s.State().Err)
}

func TestSession_SendMessageWritesServerTimestamp(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	s.SendMessage(context.Background(), "room42", "  hello  ", alice)

	require.Equal(t, 1, store.AppendCount())
	record, ok := store.appends[0].(messageRecord)
	require.True(t, ok)

	assert.Equal(t, "  hello  ", record.Message)
	assert.Equal(t, TypeText, record.Type)
	assert.Equal(t, syncstore.ServerTimestamp, record.Timestamp)
	assert.Equal(t, "u1", record.SenderID)
	assert.Equal(t, "Alice", record.SenderName)

	// Sends do not touch the view.
	assert.Empty(t, s.State().Messages)
}

func TestSession_SendMessageRejectsOversizedText(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	long := make([]byte, MaxContentBytes+1)
	for i := range long {
		long[i] = 'a'
	}

	s.SendMessage(context.Background(), "room42", string(long), alice)

	assert.Equal(t, 0, store.AppendCount())
	require.NotNil(t, s.State().Err)
	assert.Equal(t, errs.ErrMessageContentTooLong, s.State().Err.Code)
}

func TestSession_SendFailureIsRecordedThenCleared(t *testing.T) {
	store := &fakeStore{appendErr: errBackend}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	s.SendMessage(context.Background(), "room42", "hello", alice)

	state := s.State()
	require.NotNil(t, state.Err)
	assert.Equal(t, errs.ErrSendMessageFailed, state.Err.Code)

	store.mu.Lock()
	store.appendErr = nil
	store.mu.Unlock()

	s.SendMessage(context.Background(), "room42", "again", alice)
	assert.Nil(t, s.State().Err)
}

func TestSession_ServerTimestampDecidesOrder(t *testing.T) {
	t1 := time.UnixMilli(1700000000000)
	t2 := t1.Add(time.Second)

	// The store commits the first call later than the second one.
	commits := []time.Time{t2, t1}
	var calls int
	clock := func() time.Time {
		c := commits[calls%len(commits)]
		calls++
		return c
	}

	store := newMemoryStore(t, syncstore.WithClock(clock))
	s := NewSession(store, newBlobStore())
	defer s.Close()

	ctx := context.Background()
	s.SendMessage(ctx, "r1", "sent first", alice)
	s.SendMessage(ctx, "r1", "sent second", alice)

	require.Nil(t, s.Subscribe("r1"))
	state := waitForState(t, s, func(st RoomState) bool { return len(st.Messages) == 2 })

	assert.Equal(t, "sent second", state.Messages[0].Message)
	assert.Equal(t, "sent first", state.Messages[1].Message)
	assert.True(t, state.Messages[0].Timestamp.Equal(t1))
	assert.True(t, state.Messages[1].Timestamp.Equal(t2))
}

func TestSession_LiveUpdatesAfterSend(t *testing.T) {
	s := NewSession(newMemoryStore(t), newBlobStore())
	defer s.Close()

	require.Nil(t, s.Subscribe("live"))
	_, err := s.AwaitReady(context.Background())
	require.NoError(t, err)

	s.SendMessage(context.Background(), "live", "hello", alice)

	state := waitForState(t, s, func(st RoomState) bool { return len(st.Messages) == 1 })
	assert.Equal(t, "hello", state.Messages[0].Message)
	assert.NotEmpty(t, state.Messages[0].ID)
}

func TestSession_ReadFailureKeepsWatch(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	require.Nil(t, s.Subscribe("room42"))
	watches := store.Watches()
	require.Len(t, watches, 1)
	assert.Equal(t, "chats/room42/messages", watches[0].path)

	watches[0].onError(errBackend)

	state := s.State()
	assert.False(t, state.Loading)
	require.NotNil(t, state.Err)
	assert.Equal(t, errs.ErrLoadMessagesFailed, state.Err.Code)
	assert.False(t, watches[0].Cancelled())

	watches[0].onSnapshot(syncstore.Snapshot{Children: []syncstore.Child{
		{Key: "m1", Value: []byte(`{"message":"recovered","timestamp":1}`)},
	}})

	state = s.State()
	assert.Nil(t, state.Err)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "recovered", state.Messages[0].Message)
}

func TestSession_LateCallbacksAfterTeardownAreIgnored(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	require.Nil(t, s.Subscribe("room42"))
	w := store.Watches()[0]
	w.onSnapshot(syncstore.Snapshot{})

	s.Unsubscribe()
	s.Unsubscribe()
	assert.True(t, w.Cancelled())

	before := s.State()
	assert.Equal(t, RoomState{}, before)

	w.onSnapshot(syncstore.Snapshot{Children: []syncstore.Child{{Key: "late", Value: []byte(`{"message":"late"}`)}}})
	w.onError(errBackend)

	assert.Equal(t, before, s.State())
}

func TestSession_SwitchingRoomFencesOldWatch(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	require.Nil(t, s.Subscribe("a"))
	require.Nil(t, s.Subscribe("a"))
	require.Len(t, store.Watches(), 1)

	require.Nil(t, s.Subscribe("b"))
	watches := store.Watches()
	require.Len(t, watches, 2)
	assert.True(t, watches[0].Cancelled())
	assert.Equal(t, "chats/b/messages", watches[1].path)

	watches[0].onSnapshot(syncstore.Snapshot{Children: []syncstore.Child{{Key: "x", Value: []byte(`{"message":"from a"}`)}}})

	state := s.State()
	assert.Equal(t, "b", state.RoomID)
	assert.True(t, state.Loading)
	assert.Empty(t, state.Messages)

	require.Nil(t, s.Subscribe(""))
	assert.True(t, watches[1].Cancelled())
	assert.Equal(t, RoomState{}, s.State())
}

func TestSession_SubscribeRejectsMalformedRoomID(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())
	defer s.Close()

	cerr := s.Subscribe("../etc")
	require.NotNil(t, cerr)
	assert.Equal(t, errs.ErrInvalidRoomID, cerr.Code)
	assert.Empty(t, store.Watches())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, newBlobStore())

	require.Nil(t, s.Subscribe("room42"))
	w := store.Watches()[0]

	s.Close()
	s.Close()

	assert.True(t, w.Cancelled())

	// Updates is drained and closed.
	for range s.Updates() {
	}

	w.onSnapshot(syncstore.Snapshot{Children: []syncstore.Child{{Key: "late", Value: []byte(`{}`)}}})
	assert.Equal(t, "room42", s.State().RoomID)
	assert.True(t, s.State().Loading)

	require.Nil(t, s.Subscribe("other"))
	assert.Len(t, store.Watches(), 1)

	_, err := s.AwaitReady(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_AwaitReadyHonoursContext(t *testing.T) {
	s := NewSession(&fakeStore{}, newBlobStore())
	defer s.Close()

	require.Nil(t, s.Subscribe("room42"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	state, err := s.AwaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, state.Loading)
}
