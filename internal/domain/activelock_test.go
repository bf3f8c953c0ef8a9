package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveConversationLock_StartConflict(t *testing.T) {
	lock := NewActiveConversationLock()
	id := NewConversationID()

	_, err := lock.Start(id)
	require.NoError(t, err)

	_, err = lock.Start(id)
	assert.ErrorIs(t, err, ErrConversationActive)
}

func TestActiveConversationLock_FinishAllowsRestart(t *testing.T) {
	lock := NewActiveConversationLock()
	id := NewConversationID()

	_, err := lock.Start(id)
	require.NoError(t, err)

	lock.Finish(id)
	assert.False(t, lock.IsActive(id))

	_, err = lock.Start(id)
	assert.NoError(t, err)
}

func TestActiveConversationLock_StopIsNoOpWhenIdle(t *testing.T) {
	lock := NewActiveConversationLock()
	assert.NotPanics(t, func() { lock.Stop(NewConversationID()) })
}

func TestActiveConversationLock_StopSignalsCancel(t *testing.T) {
	lock := NewActiveConversationLock()
	id := NewConversationID()
	cancel, err := lock.Start(id)
	require.NoError(t, err)

	lock.Stop(id)

	select {
	case <-cancel:
	default:
		t.Fatal("expected cancel channel to be closed")
	}
}

func TestActiveConversationLock_ConcurrentDistinctConversations(t *testing.T) {
	lock := NewActiveConversationLock()
	var wg sync.WaitGroup
	errs := make(chan error, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewConversationID()
			_, err := lock.Start(id)
			errs <- err
			lock.Finish(id)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
