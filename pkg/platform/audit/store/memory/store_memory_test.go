package memory

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "watchtower/pkg/domain"
	audit "watchtower/pkg/platform/audit"
)

func TestInMemoryStore_KeepsNewestPerUser(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	userID := id.NewUserID()

	for i := range maxPerUser + 10 {
		require.NoError(t, s.Append(ctx, audit.Event{UserID: userID, Action: strconv.Itoa(i)}))
	}
	events, err := s.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, events, maxPerUser)
	assert.Equal(t, "10", events[0].Action)
	assert.Equal(t, strconv.Itoa(maxPerUser+9), events[len(events)-1].Action)
}

func TestInMemoryStore_ListIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	alice, bob := id.NewUserID(), id.NewUserID()
	require.NoError(t, s.Append(ctx, audit.Event{UserID: alice, Action: "session_started"}))

	events, err := s.ListByUser(ctx, alice)
	require.NoError(t, err)
	events[0].Action = "tampered"

	again, err := s.ListByUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "session_started", again[0].Action)

	none, err := s.ListByUser(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, none)
}
