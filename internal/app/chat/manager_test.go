package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_TracksSessions(t *testing.T) {
	m := NewManager(&fakeStore{}, newBlobStore())

	a, err := m.NewSession()
	require.NoError(t, err)
	b, err := m.NewSession()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, m.Count())
	assert.Same(t, a, m.lookup(a.ID))

	a.Close()
	assert.Equal(t, 1, m.Count())
	assert.Nil(t, m.lookup(a.ID))
}

func TestManager_Shutdown(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, newBlobStore())

	s, err := m.NewSession()
	require.NoError(t, err)
	require.Nil(t, s.Subscribe("room42"))

	m.Shutdown()

	assert.Equal(t, 0, m.Count())
	assert.True(t, store.Watches()[0].Cancelled())

	_, err = m.NewSession()
	assert.ErrorIs(t, err, ErrManagerClosed)
}
