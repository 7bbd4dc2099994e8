package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"watchtower/internal/device/models"
	"watchtower/internal/protocol"
	"watchtower/internal/protocol/simulated"
	"watchtower/internal/session/mocks"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	"watchtower/pkg/platform/audit"
	"watchtower/pkg/platform/audit/publisher"
	auditmemory "watchtower/pkg/platform/audit/store/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type ServiceSuite struct {
	suite.Suite
	devices *mocks.MockDeviceRegistry
	driver  *simulated.Driver
	pub     *recordingPublisher
	sender  *fakeSender
	audit   *publisher.Publisher
	service *Service
	userID  id.UserID
	target  *models.Target
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.devices = mocks.NewMockDeviceRegistry(ctrl)
	s.pub = &recordingPublisher{}
	s.sender = &fakeSender{}
	s.audit = publisher.NewPublisher(auditmemory.NewInMemoryStore())
	s.userID = id.NewUserID()
	s.target = &models.Target{DeviceID: id.NewDeviceID(), Name: "phone", PushToken: "tok"}
	s.service = s.newService(simulated.NewDriver())
}

func (s *ServiceSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	s.Require().NoError(s.service.Shutdown(ctx))
}

func (s *ServiceSuite) newService(driver *simulated.Driver, opts ...Option) *Service {
	s.driver = driver
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(s.sender, s.pub, []*Rule{mustKeywordRule("urgent", "emergency", "asap")}, WithRouterLogger(logger))
	opts = append([]Option{
		WithLogger(logger),
		WithAuditPublisher(s.audit),
		WithInitTimeout(time.Minute),
		WithLogoutTimeout(time.Second),
	}, opts...)
	return New(driver, s.devices, s.pub, router, opts...)
}

func (s *ServiceSuite) expectTarget() {
	s.devices.EXPECT().SelectedTarget(gomock.Any(), s.userID).Return(s.target, nil).AnyTimes()
}

func (s *ServiceSuite) waitState(state State) {
	s.T().Helper()
	s.Eventually(func() bool { return s.service.CurrentState(s.userID) == state },
		waitFor, tick, "expected state %s, have %s", state, s.service.CurrentState(s.userID))
}

func (s *ServiceSuite) startReady() *simulated.Client {
	s.T().Helper()
	s.expectTarget()
	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.waitState(StateScanQR)
	s.Require().NoError(s.driver.Approve(s.userID))
	s.waitState(StateReady)
	client, err := s.driver.Lookup(s.userID)
	s.Require().NoError(err)
	return client
}

func (s *ServiceSuite) auditActions() []string {
	events, err := s.audit.List(context.Background(), s.userID)
	s.Require().NoError(err)
	var actions []string
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

func (s *ServiceSuite) TestCurrentState_NeverStarted() {
	s.Equal(StateDisconnected, s.service.CurrentState(id.NewUserID()))
	snap := s.service.Snapshot(s.userID)
	s.Equal(StateDisconnected, snap.State)
	s.Empty(snap.Challenge)
}

func (s *ServiceSuite) TestStartSession() {
	s.Run("without a target nothing is created", func() {
		s.devices.EXPECT().SelectedTarget(gomock.Any(), s.userID).Return(nil, nil)

		_, err := s.service.StartSession(context.Background(), s.userID)
		s.Require().ErrorIs(err, ErrNoTarget)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
		s.Equal(StateDisconnected, s.service.CurrentState(s.userID))
		s.Equal(0, s.service.registry.Len())
		_, lookupErr := s.driver.Lookup(s.userID)
		s.ErrorIs(lookupErr, simulated.ErrNoClient)
		s.Empty(s.pub.For(s.userID))
		s.Contains(s.auditActions(), string(audit.EventSessionStartDenied))
	})

	s.Run("target lookup failure is returned", func() {
		other := id.NewUserID()
		s.devices.EXPECT().SelectedTarget(gomock.Any(), other).
			Return(nil, dErrors.New(dErrors.CodeInternal, "store down"))

		_, err := s.service.StartSession(context.Background(), other)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.Equal(StateDisconnected, s.service.CurrentState(other))
	})

	s.Run("second start is rejected while the first is live", func() {
		s.devices.EXPECT().SelectedTarget(gomock.Any(), s.userID).Return(s.target, nil).Times(1)

		snap, err := s.service.StartSession(context.Background(), s.userID)
		s.Require().NoError(err)
		s.Equal(StateInitializing, snap.State)

		_, err = s.service.StartSession(context.Background(), s.userID)
		s.Require().ErrorIs(err, ErrAlreadyActive)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(1, s.service.registry.Len())
	})
}

func (s *ServiceSuite) TestStartSession_Concurrent() {
	s.expectTarget()

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.service.StartSession(context.Background(), s.userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyActive):
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(1, ok)
	s.Equal(callers-1, rejected)
	s.Equal(1, s.service.registry.Len())
}

func (s *ServiceSuite) TestHandshakeTransitions() {
	s.expectTarget()
	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err)

	s.waitState(StateScanQR)
	snap := s.service.Snapshot(s.userID)
	s.True(strings.HasPrefix(snap.Challenge, "watchtower-sim:"))
	s.Equal(1, s.pub.Count(s.userID, EventQR))

	s.Require().NoError(s.driver.Approve(s.userID))
	s.waitState(StateReady)
	s.Empty(s.service.Snapshot(s.userID).Challenge)

	s.Equal([]State{StateInitializing, StateScanQR, StateAuthenticated, StateReady}, s.pub.States(s.userID))
	for _, e := range s.pub.For(s.userID) {
		if e.Event == EventQR {
			s.Equal(QRPayload{QR: snap.Challenge}, e.Payload)
		}
	}
	s.Contains(s.auditActions(), string(audit.EventSessionStarted))
}

func (s *ServiceSuite) TestMessageRouting() {
	s.startReady()

	s.Require().NoError(s.driver.Deliver(s.userID, protocol.Message{From: "+1", SenderName: "Bob", Body: "URGENT: call back"}))
	s.Eventually(func() bool { return s.pub.Count(s.userID, EventNotificationSent) == 1 }, waitFor, tick)
	s.Len(s.sender.Sent(), 1)
	s.Equal(0, s.pub.Count(s.userID, EventNotificationError))

	s.Require().NoError(s.driver.Deliver(s.userID, protocol.Message{From: "+1", Body: "see you at lunch"}))
	s.Eventually(func() bool { return s.pub.Count(s.userID, EventMessage) == 2 }, waitFor, tick)
	s.Len(s.sender.Sent(), 1, "non-matching message is not dispatched")
	s.Equal(StateReady, s.service.CurrentState(s.userID), "routing never changes state")
}

func (s *ServiceSuite) TestDeliveryFailureIsNonFatal() {
	s.sender.err = errors.New("push gateway unavailable")
	s.startReady()

	s.Require().NoError(s.driver.Deliver(s.userID, protocol.Message{From: "+1", Body: "emergency"}))
	s.Eventually(func() bool { return s.pub.Count(s.userID, EventNotificationError) == 1 }, waitFor, tick)
	s.Equal(0, s.pub.Count(s.userID, EventNotificationSent))
	s.Equal(StateReady, s.service.CurrentState(s.userID))
}

func (s *ServiceSuite) TestPingIsAnswered() {
	client := s.startReady()

	s.Require().NoError(s.driver.Deliver(s.userID, protocol.Message{From: "+1", Body: "!ping"}))
	s.Eventually(func() bool { return len(client.Replies()) == 1 }, waitFor, tick)
	s.Equal("pong", client.Replies()[0].Body)
}

func (s *ServiceSuite) TestStopSession() {
	client := s.startReady()

	result, err := s.service.StopSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.Equal(StopCompleted, result)
	s.True(client.LoggedOut(), "logout was called")
	s.Equal(StateDisconnected, s.service.CurrentState(s.userID))
	s.Equal(0, s.service.registry.Len())

	_, err = s.service.StopSession(context.Background(), s.userID)
	s.Require().ErrorIs(err, ErrNotActive)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.Eventually(func() bool {
		states := s.pub.States(s.userID)
		return len(states) > 0 && states[len(states)-1] == StateDisconnected
	}, waitFor, tick)
	s.Equal(1, countState(s.pub.States(s.userID), StateDisconnected), "disconnect is published once")
	s.Contains(s.auditActions(), string(audit.EventSessionStopped))
}

func (s *ServiceSuite) TestStopSession_NotActive() {
	_, err := s.service.StopSession(context.Background(), s.userID)
	s.Require().ErrorIs(err, ErrNotActive)
}

func (s *ServiceSuite) TestStopSession_QueuedDuringHandshake() {
	s.expectTarget()
	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.waitState(StateScanQR)

	result, err := s.service.StopSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.Equal(StopQueued, result)
	s.Equal(StateScanQR, s.service.CurrentState(s.userID))

	result, err = s.service.StopSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.Equal(StopQueued, result, "repeated stop stays queued")

	s.Require().NoError(s.driver.Approve(s.userID))
	s.waitState(StateDisconnected)
	s.Eventually(func() bool { return s.service.registry.Len() == 0 }, waitFor, tick)

	client, err := s.driver.Lookup(s.userID)
	s.Require().NoError(err)
	s.Eventually(client.Closed, waitFor, tick)
	s.Contains(s.auditActions(), string(audit.EventSessionStopQueued))
}

func (s *ServiceSuite) TestStopSession_QueuedBeforeInitialize() {
	s.service = s.newService(simulated.NewDriver(simulated.WithInitDelay(50 * time.Millisecond)))
	s.expectTarget()
	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err)

	result, err := s.service.StopSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.Equal(StopQueued, result)
	s.Equal(StateInitializing, s.service.CurrentState(s.userID))

	s.waitState(StateScanQR)
	s.Require().NoError(s.driver.Approve(s.userID))
	s.waitState(StateDisconnected)
}

func (s *ServiceSuite) TestInitializationFailure() {
	s.service = s.newService(simulated.NewDriver(simulated.WithInitError(errors.New("browser crashed"))))
	s.expectTarget()

	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err, "initialization runs asynchronously")

	s.waitState(StateDisconnected)
	s.Eventually(func() bool { return s.pub.Count(s.userID, EventSessionError) == 1 }, waitFor, tick)
	s.Equal(0, s.service.registry.Len())

	_, err = s.service.StartSession(context.Background(), s.userID)
	s.NoError(err, "a failed session can be started again")
}

func (s *ServiceSuite) TestInitializationTimeout() {
	s.service = s.newService(simulated.NewDriver(simulated.WithInitDelay(time.Hour)), WithInitTimeout(30*time.Millisecond))
	s.expectTarget()

	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err)

	s.waitState(StateDisconnected)
	s.Equal(0, s.service.registry.Len())
	var reasons []string
	for _, e := range s.pub.For(s.userID) {
		if e.Event == EventSessionError {
			reasons = append(reasons, e.Payload.(SessionErrorPayload).Error)
		}
	}
	s.Equal([]string{reasonInitTimeout}, reasons)
}

func (s *ServiceSuite) TestInitializationTimeout_CutsUnpairedClient() {
	s.service = s.newService(simulated.NewDriver(), WithInitTimeout(30*time.Millisecond))
	s.expectTarget()

	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.waitState(StateDisconnected)

	client, err := s.driver.Lookup(s.userID)
	s.Require().NoError(err)
	s.Eventually(client.Closed, waitFor, tick)
	s.False(client.LoggedOut())

	// A scan arriving after the timeout finds no connection and must not hang.
	approved := make(chan error, 1)
	go func() { approved <- s.driver.Approve(s.userID) }()
	select {
	case err := <-approved:
		s.ErrorIs(err, simulated.ErrWrongPhase)
	case <-time.After(waitFor):
		s.Fail("approve blocked after the handshake timed out")
	}
	s.Equal(StateDisconnected, s.service.CurrentState(s.userID))
}

func (s *ServiceSuite) TestAuthFailure() {
	s.expectTarget()
	_, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err)
	s.waitState(StateScanQR)

	client, err := s.driver.Lookup(s.userID)
	s.Require().NoError(err)
	s.Require().NoError(client.Reject("code expired"))

	s.waitState(StateAuthFailure)
	s.Equal("code expired", s.service.Snapshot(s.userID).Reason)
	s.Eventually(func() bool { return s.pub.Count(s.userID, EventSessionError) == 1 }, waitFor, tick)

	snap, err := s.service.StartSession(context.Background(), s.userID)
	s.Require().NoError(err, "auth failure is restartable")
	s.Equal(StateInitializing, snap.State)
}

func (s *ServiceSuite) TestRemoteDisconnect() {
	client := s.startReady()
	s.Require().NoError(client.Drop("phone offline"))

	s.waitState(StateDisconnected)
	s.Equal(0, s.service.registry.Len())
	_, err := s.service.StopSession(context.Background(), s.userID)
	s.ErrorIs(err, ErrNotActive)
}

func (s *ServiceSuite) TestUpdateTarget() {
	s.Run("live session routes to the new target", func() {
		s.startReady()
		next := &models.Target{DeviceID: id.NewDeviceID(), Name: "tablet", PushToken: "tok2"}
		s.devices.EXPECT().SetSelectedTarget(gomock.Any(), s.userID, next.DeviceID).Return(next, nil)

		got, err := s.service.UpdateTarget(context.Background(), s.userID, next.DeviceID)
		s.Require().NoError(err)
		s.Equal(next.DeviceID, got.DeviceID)

		s.Require().NoError(s.driver.Deliver(s.userID, protocol.Message{From: "+1", Body: "asap please"}))
		s.Eventually(func() bool { return len(s.sender.Targets()) == 1 }, waitFor, tick)
		s.Equal(next.DeviceID, s.sender.Targets()[0].DeviceID)
	})

	s.Run("without a session the selection is only persisted", func() {
		other := id.NewUserID()
		deviceID := id.NewDeviceID()
		s.devices.EXPECT().SetSelectedTarget(gomock.Any(), other, deviceID).
			Return(&models.Target{DeviceID: deviceID}, nil)

		_, err := s.service.UpdateTarget(context.Background(), other, deviceID)
		s.Require().NoError(err)
		s.Equal(StateDisconnected, s.service.CurrentState(other))
	})

	s.Run("unknown device is rejected", func() {
		deviceID := id.NewDeviceID()
		s.devices.EXPECT().SetSelectedTarget(gomock.Any(), s.userID, deviceID).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "device not found"))

		_, err := s.service.UpdateTarget(context.Background(), s.userID, deviceID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestShutdown() {
	client := s.startReady()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	s.Require().NoError(s.service.Shutdown(ctx))

	s.Equal(StateDisconnected, s.service.CurrentState(s.userID))
	s.False(client.LoggedOut(), "shutdown does not log users out")
	s.Eventually(client.Closed, waitFor, tick)
}

func countState(states []State, want State) int {
	n := 0
	for _, st := range states {
		if st == want {
			n++
		}
	}
	return n
}
