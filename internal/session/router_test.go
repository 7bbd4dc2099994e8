package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/device/models"
	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
)

func awaitTask(t *testing.T, task *Task) Outcome {
	t.Helper()
	require.NotNil(t, task)
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatch did not finish")
	}
	return task.Outcome()
}

func TestRouter_MatchWithTargetDispatchesOnce(t *testing.T) {
	pub := &recordingPublisher{}
	sender := &fakeSender{}
	router := NewRouter(sender, pub, []*Rule{mustKeywordRule("urgent")})
	userID := id.NewUserID()
	target := &models.Target{DeviceID: id.NewDeviceID(), Name: "phone", PushToken: "tok"}
	msg := protocol.Message{ID: "m1", From: "+100", SenderName: "Alice", Body: "this is URGENT"}

	outcome := awaitTask(t, router.Route(context.Background(), userID, target, msg))
	require.NoError(t, outcome.Err)
	assert.Equal(t, "fake", outcome.Receipt.Backend)

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Urgent message from Alice", sent[0].Title)
	assert.Equal(t, "Alice: this is URGENT", sent[0].Body)
	assert.Equal(t, userID, sent[0].UserID)
	assert.Equal(t, "m1", sent[0].MessageID)

	assert.Equal(t, 1, pub.Count(userID, EventMessage))
	assert.Equal(t, 1, pub.Count(userID, EventNotificationSent))
	assert.Equal(t, 0, pub.Count(userID, EventNotificationError))

	events := pub.For(userID)
	assert.Equal(t, EventMessage, events[0].Event, "message is forwarded before the outcome")
	assert.Equal(t, msg, events[0].Payload)
}

func TestRouter_DeliveryFailurePublishesError(t *testing.T) {
	pub := &recordingPublisher{}
	sender := &fakeSender{err: errors.New("gateway down")}
	router := NewRouter(sender, pub, []*Rule{mustKeywordRule("urgent")})
	userID := id.NewUserID()
	target := &models.Target{DeviceID: id.NewDeviceID()}

	outcome := awaitTask(t, router.Route(context.Background(), userID, target, protocol.Message{ID: "m1", From: "+1", Body: "urgent"}))
	require.Error(t, outcome.Err)

	assert.Len(t, sender.Sent(), 1)
	assert.Equal(t, 1, pub.Count(userID, EventNotificationError))
	assert.Equal(t, 0, pub.Count(userID, EventNotificationSent))
	payload := pub.For(userID)[1].Payload.(NotificationErrorPayload)
	assert.Equal(t, "m1", payload.MessageID)
	assert.Contains(t, payload.Error, "gateway down")
}

func TestRouter_NoMatchOnlyForwards(t *testing.T) {
	pub := &recordingPublisher{}
	sender := &fakeSender{}
	router := NewRouter(sender, pub, []*Rule{mustKeywordRule("urgent")})
	userID := id.NewUserID()
	target := &models.Target{DeviceID: id.NewDeviceID()}

	task := router.Route(context.Background(), userID, target, protocol.Message{From: "+1", Body: "lunch later?"})
	assert.Nil(t, task)
	require.NoError(t, router.Wait(context.Background()))

	assert.Empty(t, sender.Sent())
	assert.Equal(t, 1, pub.Count(userID, EventMessage))
	assert.Len(t, pub.For(userID), 1)
}

func TestRouter_MatchWithoutTargetOnlyForwards(t *testing.T) {
	pub := &recordingPublisher{}
	sender := &fakeSender{}
	router := NewRouter(sender, pub, []*Rule{mustKeywordRule("urgent")})
	userID := id.NewUserID()

	task := router.Route(context.Background(), userID, nil, protocol.Message{From: "+1", Body: "urgent"})
	assert.Nil(t, task)
	assert.Empty(t, sender.Sent())
	assert.Len(t, pub.For(userID), 1)
}

func TestRouter_SenderNameFallsBackToSenderID(t *testing.T) {
	pub := &recordingPublisher{}
	sender := &fakeSender{}
	router := NewRouter(sender, pub, []*Rule{mustKeywordRule("asap")})
	target := &models.Target{DeviceID: id.NewDeviceID()}

	awaitTask(t, router.Route(context.Background(), id.NewUserID(), target, protocol.Message{From: "+4915100000", Body: "call me asap"}))
	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Urgent message from +4915100000", sent[0].Title)
}

func TestRouter_FirstMatchingRuleWins(t *testing.T) {
	rules, err := ParseRules([]byte(`
rules:
  - name: pager
    keywords: [incident]
    title: "Incident: {{.Keyword}}"
  - name: fallback
    keywords: [incident, urgent]
`))
	require.NoError(t, err)

	sender := &fakeSender{}
	router := NewRouter(sender, &recordingPublisher{}, rules)
	target := &models.Target{DeviceID: id.NewDeviceID()}
	awaitTask(t, router.Route(context.Background(), id.NewUserID(), target, protocol.Message{From: "ops", Body: "Incident opened"}))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "pager", sent[0].Rule)
	assert.Equal(t, "Incident: incident", sent[0].Title)
}

func TestRouter_WaitBlocksForInFlightDispatch(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	router := NewRouter(sender, &recordingPublisher{}, []*Rule{mustKeywordRule("urgent")})
	target := &models.Target{DeviceID: id.NewDeviceID()}

	task := router.Route(context.Background(), id.NewUserID(), target, protocol.Message{From: "+1", Body: "urgent"})
	require.NotNil(t, task)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, router.Wait(ctx), context.DeadlineExceeded)

	close(sender.block)
	require.NoError(t, router.Wait(context.Background()))
	awaitTask(t, task)
}

func TestParseRules(t *testing.T) {
	t.Run("rejects empty file", func(t *testing.T) {
		_, err := ParseRules([]byte("rules: []"))
		assert.Error(t, err)
	})
	t.Run("rejects rule without keywords", func(t *testing.T) {
		_, err := ParseRules([]byte("rules:\n  - name: empty\n    keywords: ['  ']\n"))
		assert.ErrorContains(t, err, "at least one keyword")
	})
	t.Run("rejects bad template", func(t *testing.T) {
		_, err := ParseRules([]byte("rules:\n  - keywords: [x]\n    title: '{{.Sender'\n"))
		assert.Error(t, err)
	})
	t.Run("names unnamed rules", func(t *testing.T) {
		rules, err := ParseRules([]byte("rules:\n  - keywords: [x]\n"))
		require.NoError(t, err)
		assert.Equal(t, "rule-1", rules[0].Name)
	})
}

func TestRule_MatchIsCaseInsensitive(t *testing.T) {
	r := mustKeywordRule(" Emergency ")
	kw, ok := r.Match("this is an EMERGENCY")
	assert.True(t, ok)
	assert.Equal(t, "emergency", kw)

	_, ok = r.Match("all good")
	assert.False(t, ok)
}

func TestRouter_RouteAfterWaitFailsFast(t *testing.T) {
	pub := &recordingPublisher{}
	sender := &fakeSender{}
	router := NewRouter(sender, pub, []*Rule{mustKeywordRule("urgent")})
	require.NoError(t, router.Wait(context.Background()))

	userID := id.NewUserID()
	target := &models.Target{DeviceID: id.NewDeviceID()}
	outcome := awaitTask(t, router.Route(context.Background(), userID, target, protocol.Message{ID: "m2", From: "+1", Body: "urgent"}))
	require.ErrorIs(t, outcome.Err, ErrRouterClosed)

	assert.Empty(t, sender.Sent())
	assert.Equal(t, 1, pub.Count(userID, EventMessage), "forwarding still happens")
	assert.Equal(t, 1, pub.Count(userID, EventNotificationError))
	assert.Equal(t, 0, pub.Count(userID, EventNotificationSent))
}

func TestRouter_ConcurrentRouteAndWait(t *testing.T) {
	router := NewRouter(&fakeSender{}, &recordingPublisher{}, []*Rule{mustKeywordRule("urgent")})
	target := &models.Target{DeviceID: id.NewDeviceID()}

	var wg sync.WaitGroup
	tasks := make(chan *Task, 50)
	for range 50 {
		wg.Go(func() {
			tasks <- router.Route(context.Background(), id.NewUserID(), target, protocol.Message{From: "+1", Body: "urgent"})
		})
	}
	wg.Go(func() { _ = router.Wait(context.Background()) })
	wg.Wait()
	close(tasks)

	for task := range tasks {
		awaitTask(t, task)
	}
	require.NoError(t, router.Wait(context.Background()))
}
