package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
)

func testSession(userID id.UserID) *Session {
	return newSession(userID, nil, nil, time.Now())
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := NewRegistry()
	userID := id.NewUserID()

	_, ok := r.Get(userID)
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, r.Peek(userID).State)

	sess, err := r.Create(userID, func() (*Session, error) { return testSession(userID), nil })
	require.NoError(t, err)

	got, ok := r.Get(userID)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, StateInitializing, r.Peek(userID).State)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove(userID))
	assert.False(t, r.Remove(userID), "double remove is a no-op")
	assert.Equal(t, StateDisconnected, r.Peek(userID).State)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CreateRejectsLiveRecord(t *testing.T) {
	r := NewRegistry()
	userID := id.NewUserID()
	first, err := r.Create(userID, func() (*Session, error) { return testSession(userID), nil })
	require.NoError(t, err)

	built := false
	_, err = r.Create(userID, func() (*Session, error) {
		built = true
		return testSession(userID), nil
	})
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.False(t, built)

	got, _ := r.Get(userID)
	assert.Same(t, first, got)
}

func TestRegistry_CreateReplacesTerminalRecord(t *testing.T) {
	r := NewRegistry()
	userID := id.NewUserID()
	first, err := r.Create(userID, func() (*Session, error) { return testSession(userID), nil })
	require.NoError(t, err)

	slot := r.Lock(userID)
	first.machine.Apply(protocol.Event{Kind: protocol.KindAuthFailure, Reason: "rejected"})
	first.storeSnapshot("rejected", time.Now())
	slot.Unlock()
	assert.Equal(t, StateAuthFailure, r.Peek(userID).State)

	second, err := r.Create(userID, func() (*Session, error) { return testSession(userID), nil })
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, StateInitializing, r.Peek(userID).State)
}

func TestRegistry_BuildFailureStoresNothing(t *testing.T) {
	r := NewRegistry()
	userID := id.NewUserID()
	boom := errors.New("boom")

	_, err := r.Create(userID, func() (*Session, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := r.Get(userID)
	assert.False(t, ok)
}

func TestRegistry_ConcurrentCreateSameIdentity(t *testing.T) {
	r := NewRegistry()
	userID := id.NewUserID()

	const callers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Create(userID, func() (*Session, error) { return testSession(userID), nil })
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrAlreadyActive):
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, callers-1, rejected.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_IdentitiesDoNotBlockEachOther(t *testing.T) {
	r := NewRegistry()
	a, b := id.NewUserID(), id.NewUserID()

	held := r.Lock(a)
	defer held.Unlock()

	done := make(chan struct{})
	go func() {
		_, _ = r.Create(b, func() (*Session, error) { return testSession(b), nil })
		r.Remove(b)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operations on another identity blocked on a held slot")
	}
	assert.Equal(t, StateDisconnected, r.Peek(a).State, "peek does not need the slot")
}

func TestRegistry_SameIdentitySerialized(t *testing.T) {
	r := NewRegistry()
	userID := id.NewUserID()

	held := r.Lock(userID)
	acquired := make(chan struct{})
	go func() {
		slot := r.Lock(userID)
		close(acquired)
		slot.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the slot was held")
	case <-time.After(50 * time.Millisecond):
	}
	held.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("slot never released")
	}
}
