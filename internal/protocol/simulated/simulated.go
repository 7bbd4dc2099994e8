// Package simulated is an in-process protocol driver. It walks the handshake
// on command (or automatically after a delay) and lets callers inject inbound
// messages, for local runs and tests.
package simulated

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
)

var (
	ErrNoClient     = errors.New("simulated: no client for user")
	ErrWrongPhase   = errors.New("simulated: client not in the required phase")
	ErrClientClosed = errors.New("simulated: client closed")
)

// ReasonLoggedOut is the disconnect reason reported after Logout.
const ReasonLoggedOut = "logged out"

const (
	eventBufferSize = 64
	challengePrefix = "watchtower-sim:"
)

type phase int

const (
	phaseNew phase = iota
	phaseChallenged
	phaseAuthenticated
	phaseReady
	phaseClosed
)

// Driver is a protocol.Factory that remembers the latest client per user.
type Driver struct {
	autoApprove  bool
	approveDelay time.Duration
	initErr      error
	initDelay    time.Duration

	mu      sync.Mutex
	clients map[id.UserID]*Client
}

type Option func(*Driver)

// WithAutoApprove authenticates every client delay after its challenge.
func WithAutoApprove(delay time.Duration) Option {
	return func(d *Driver) {
		d.autoApprove = true
		d.approveDelay = delay
	}
}

// WithInitError makes every Initialize fail with err.
func WithInitError(err error) Option {
	return func(d *Driver) {
		d.initErr = err
	}
}

// WithInitDelay makes Initialize block for delay (or until ctx ends) before the challenge.
func WithInitDelay(delay time.Duration) Option {
	return func(d *Driver) {
		d.initDelay = delay
	}
}

func NewDriver(opts ...Option) *Driver {
	d := &Driver{clients: make(map[id.UserID]*Client)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) NewClient(userID id.UserID) (protocol.Client, error) {
	c := &Client{
		driver: d,
		userID: userID,
		events: make(chan protocol.Event, eventBufferSize),
		done:   make(chan struct{}),
		cut:    make(chan struct{}),
	}
	d.mu.Lock()
	d.clients[userID] = c
	d.mu.Unlock()
	return c, nil
}

// Lookup returns the user's latest client.
func (d *Driver) Lookup(userID id.UserID) (*Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[userID]
	if !ok {
		return nil, ErrNoClient
	}
	return c, nil
}

// Approve completes the handshake of the user's client as if the code was scanned.
func (d *Driver) Approve(userID id.UserID) error {
	c, err := d.Lookup(userID)
	if err != nil {
		return err
	}
	return c.Approve()
}

// Deliver injects an inbound message into the user's ready client.
func (d *Driver) Deliver(userID id.UserID, msg protocol.Message) error {
	c, err := d.Lookup(userID)
	if err != nil {
		return err
	}
	return c.Deliver(msg)
}

// Client is one simulated connection.
type Client struct {
	driver *Driver
	userID id.UserID

	mu        sync.Mutex
	phase     phase
	events    chan protocol.Event
	done      chan struct{}
	replies   []Reply
	loggedOut bool

	// cut is closed, without taking mu, when the connection's context ends so
	// a blocked emit can give up.
	cut     chan struct{}
	cutOnce sync.Once
}

// Reply records an answer sent by the supervisor.
type Reply struct {
	To   protocol.Message
	Body string
}

func (c *Client) Events() <-chan protocol.Event { return c.events }

// Initialize emits the challenge. ctx bounds the connection: when it ends the
// client drops the link without logging out and closes its event stream.
func (c *Client) Initialize(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			c.disconnect()
		case <-c.done:
		}
	}()
	if c.driver.initDelay > 0 {
		select {
		case <-time.After(c.driver.initDelay):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClientClosed
		}
	}
	if c.driver.initErr != nil {
		c.close()
		return c.driver.initErr
	}

	c.mu.Lock()
	if c.phase != phaseNew {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	c.phase = phaseChallenged
	c.emitLocked(protocol.Event{Kind: protocol.KindChallenge, Challenge: challengePrefix + uuid.NewString()})
	c.mu.Unlock()

	if c.driver.autoApprove {
		go func() {
			select {
			case <-time.After(c.driver.approveDelay):
				_ = c.Approve()
			case <-c.done:
			}
		}()
	}
	return nil
}

// Approve emits authenticated then ready.
func (c *Client) Approve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseChallenged {
		return ErrWrongPhase
	}
	c.phase = phaseAuthenticated
	c.emitLocked(protocol.Event{Kind: protocol.KindAuthenticated})
	c.phase = phaseReady
	c.emitLocked(protocol.Event{Kind: protocol.KindReady})
	return nil
}

// Reject fails the handshake and closes the client.
func (c *Client) Reject(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return ErrClientClosed
	}
	c.emitLocked(protocol.Event{Kind: protocol.KindAuthFailure, Reason: reason})
	c.closeLocked()
	return nil
}

// Drop simulates the remote side ending the connection.
func (c *Client) Drop(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return ErrClientClosed
	}
	c.emitLocked(protocol.Event{Kind: protocol.KindDisconnected, Reason: reason})
	c.closeLocked()
	return nil
}

// Rechallenge emits a fresh code, as a phone-side timeout does.
func (c *Client) Rechallenge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseChallenged {
		return ErrWrongPhase
	}
	c.emitLocked(protocol.Event{Kind: protocol.KindChallenge, Challenge: challengePrefix + uuid.NewString()})
	return nil
}

func (c *Client) Deliver(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseReady {
		return ErrWrongPhase
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.emitLocked(protocol.Event{Kind: protocol.KindMessage, Message: &msg})
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case phaseAuthenticated, phaseReady:
		c.emitLocked(protocol.Event{Kind: protocol.KindDisconnected, Reason: ReasonLoggedOut})
		c.loggedOut = true
		c.closeLocked()
		return nil
	case phaseClosed:
		return ErrClientClosed
	default:
		return protocol.ErrNotLoggable
	}
}

func (c *Client) Reply(ctx context.Context, to protocol.Message, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseReady {
		return ErrWrongPhase
	}
	c.replies = append(c.replies, Reply{To: to, Body: body})
	return nil
}

// Replies returns the answers sent so far.
func (c *Client) Replies() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reply(nil), c.replies...)
}

// LoggedOut reports whether Logout ended the connection, revoking the pairing.
func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// Closed reports whether the connection is gone, for any reason.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// disconnect ends the link without logging out.
func (c *Client) disconnect() {
	c.cutOnce.Do(func() { close(c.cut) })
	c.close()
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.phase == phaseClosed {
		return
	}
	c.phase = phaseClosed
	close(c.done)
	close(c.events)
}

// emitLocked blocks until the consumer takes the event or the connection is
// cut.
func (c *Client) emitLocked(ev protocol.Event) {
	if c.phase == phaseClosed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.cut:
	}
}
