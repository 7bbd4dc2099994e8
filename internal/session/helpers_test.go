package session

import (
	"context"
	"sync"

	"watchtower/internal/device/models"
	"watchtower/internal/notify"
	id "watchtower/pkg/domain"
)

type publication struct {
	UserID  id.UserID
	Event   string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publication
}

func (p *recordingPublisher) Publish(userID id.UserID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publication{UserID: userID, Event: event, Payload: payload})
}

func (p *recordingPublisher) For(userID id.UserID) []publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publication
	for _, e := range p.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) Count(userID id.UserID, event string) int {
	n := 0
	for _, e := range p.For(userID) {
		if e.Event == event {
			n++
		}
	}
	return n
}

// States returns the status payload states published for userID, in order.
func (p *recordingPublisher) States(userID id.UserID) []State {
	var out []State
	for _, e := range p.For(userID) {
		if e.Event == EventStatus {
			out = append(out, e.Payload.(StatusPayload).State)
		}
	}
	return out
}

type fakeSender struct {
	mu      sync.Mutex
	err     error
	sent    []notify.Notification
	targets []models.Target
	block   chan struct{}
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) Send(_ context.Context, target models.Target, n notify.Notification) (notify.Receipt, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	s.targets = append(s.targets, target)
	if s.err != nil {
		return notify.Receipt{}, s.err
	}
	return notify.Receipt{Backend: "fake", ID: "r-" + target.DeviceID.String()}, nil
}

func (s *fakeSender) Sent() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.sent...)
}

func mustKeywordRule(keywords ...string) *Rule {
	r, err := KeywordRule(keywords, "Urgent message from {{.Sender}}")
	if err != nil {
		panic(err)
	}
	return r
}

func (s *fakeSender) Targets() []models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Target(nil), s.targets...)
}
