package ble

import (
	"context"
	"log/slog"
	"sync"
)

// Pipeline consumes the raw notifications of one session. Offer must not
// block; Close stops the pipeline and waits for it to finish.
type Pipeline interface {
	Start(ctx context.Context)
	Offer(data []byte)
	Close()
}

// SessionOptions configures a Session.
type SessionOptions struct {
	ServiceUUID string
	CharUUID    string
	// NewPipeline creates the notification pipeline for a session.
	NewPipeline func() Pipeline
	// OnState, if set, is called on every state transition.
	OnState func(State)
}

// Session owns a single BLE connection lifetime:
// Idle → Locating → Connected → Subscribed → Disconnected.
// A Session is single-use.
type Session struct {
	adapter Adapter
	locator *Locator
	opts    SessionOptions

	mu     sync.Mutex
	state  State
	device Device
}

// NewSession creates an idle session.
func NewSession(adapter Adapter, locator *Locator, opts SessionOptions) *Session {
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = BodyCompositionServiceUUID
	}
	if opts.CharUUID == "" {
		opts.CharUUID = BodyCompositionMeasurementUUID
	}
	if opts.NewPipeline == nil {
		opts.NewPipeline = func() Pipeline { return nopPipeline{} }
	}
	return &Session{
		adapter: adapter,
		locator: locator,
		opts:    opts,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the peripheral this session located, if any.
func (s *Session) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	slog.Debug("[BLE] session state", "state", st)
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// Run drives the session to Disconnected. It returns nil when a subscribed
// link was dropped by the transport, ErrNotFound when the scale could not be
// located, a *TransportError when connecting or subscribing failed, and
// ctx.Err() when ctx was cancelled. The connection, subscription and
// pipeline are always released before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateLocating)
	dev, err := s.locator.Locate(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.mu.Lock()
	s.device = dev
	s.mu.Unlock()

	conn, err := s.adapter.Connect(ctx, dev.Address)
	if err != nil {
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: "connect", Err: err}
	}
	s.setState(StateConnected)
	slog.Info("[BLE] connected", "name", dev.Name, "address", dev.Address)

	// Register before subscribing so an early drop is never missed.
	disconnected := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() {
		once.Do(func() { close(disconnected) })
	})

	var (
		char       Characteristic
		pipe       Pipeline
		subscribed bool
	)
	defer func() {
		s.release(conn, char, subscribed, pipe)
		s.setState(StateDisconnected)
	}()

	char, err = conn.DiscoverCharacteristic(s.opts.ServiceUUID, s.opts.CharUUID)
	if err != nil {
		return &TransportError{Op: "discover characteristic", Err: err}
	}

	pipe = s.opts.NewPipeline()
	pipe.Start(ctx)

	if err := char.Subscribe(pipe.Offer); err != nil {
		return &TransportError{Op: "subscribe", Err: err}
	}
	subscribed = true
	s.setState(StateSubscribed)
	slog.Info("[BLE] subscribed to body composition notifications", "address", dev.Address)

	select {
	case <-disconnected:
		slog.Info("[BLE] disconnected", "address", dev.Address)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release tears down everything the session acquired, in reverse order.
// Errors are expected when the peer already dropped the link.
func (s *Session) release(conn Connection, char Characteristic, subscribed bool, pipe Pipeline) {
	if subscribed && char != nil {
		if err := char.Unsubscribe(); err != nil {
			slog.Debug("[BLE] unsubscribe failed", "error", err)
		}
	}
	if err := conn.Disconnect(); err != nil {
		slog.Debug("[BLE] disconnect failed", "error", err)
	}
	if pipe != nil {
		pipe.Close()
	}
}

type nopPipeline struct{}

func (nopPipeline) Start(context.Context) {}
func (nopPipeline) Offer([]byte)          {}
func (nopPipeline) Close()                {}
