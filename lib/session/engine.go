// Package session drives the SAM handshake and session lifecycle over one
// control channel.
//
// An Engine walks CLOSED → CONNECTING → HELLO_PENDING → [DESTINATION_PENDING]
// → READY on Open and READY → SESSION_PENDING → ACTIVE on InitSession. A
// failed step moves it to ERROR and the call returns the error; nothing is
// retried. When the control socket closes, for any reason, the engine moves
// to CLOSED and Done is closed: on the bridge the session is gone with it.
//
// Engine calls are serialized. Conduits may share an Engine between
// goroutines; a call waits for the previous one to finish or for its own
// context to expire.
package session

import (
	"context"
	"sync"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/control"
	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
)

var log = logger.GetGoI2PLogger()

// Engine is one SAM session.
type Engine struct {
	cfg config.SAMConfig

	// sem serializes Open, InitSession and Lookup.
	sem chan struct{}

	mu      sync.Mutex
	state   State
	err     error
	ch      *control.Channel
	dest    identity.Destination
	style   protocol.Style
	opened  bool
	closing bool

	done     chan struct{}
	doneOnce sync.Once
}

// New returns an Engine in StateClosed. cfg is normalized; an invalid
// configuration is rejected before any I/O.
func New(cfg config.SAMConfig) (*Engine, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:  cfg,
		sem:  make(chan struct{}, 1),
		dest: cfg.Destination(),
		done: make(chan struct{}),
	}, nil
}

// Open dials the bridge, performs HELLO and, when no keypair is configured,
// DEST GENERATE. On success the engine is READY.
func (e *Engine) Open(ctx context.Context) error {
	if err := e.acquire(ctx, "CONNECT"); err != nil {
		return err
	}
	defer e.release()

	e.mu.Lock()
	if e.opened {
		state := e.state
		e.mu.Unlock()
		return protocol.NewConfigurationError("CONNECT", nil, "session engine already opened (%s)", state)
	}
	e.opened = true
	e.state = StateConnecting
	e.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":      "session.Engine.Open",
		"addr":    e.cfg.TCPAddr(),
		"session": e.cfg.Session.ID,
	}).Debug("opening_session_engine")

	ch, err := control.Dial(ctx, e.cfg.TCPAddr())
	if err != nil {
		return e.failStep(err)
	}
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		ch.Close()
		return protocol.NewConnectionError("CONNECT", protocol.ErrClosed)
	}
	e.ch = ch
	e.mu.Unlock()
	go e.watch(ch)

	e.setState(StateHelloPending)
	if err := ch.Hello(ctx, e.cfg.SAM.VersionMin, e.cfg.SAM.VersionMax); err != nil {
		return e.failStep(err)
	}

	if e.Destination().IsTransient() {
		e.setState(StateDestinationPending)
		dest, err := ch.GenerateDestination(ctx, e.cfg.SAM.SignatureType)
		if err != nil {
			return e.failStep(err)
		}
		e.mu.Lock()
		e.dest = dest
		e.mu.Unlock()
	}

	e.setState(StateReady)
	return nil
}

// InitSession issues SESSION CREATE with the held keypair. Datagram styles
// announce listen.host_forward/listen.port_forward as HOST/PORT. On success
// the engine is ACTIVE and the keypair reflects what the bridge confirmed.
func (e *Engine) InitSession(ctx context.Context, style protocol.Style) error {
	if !style.IsValid() {
		return protocol.NewConfigurationError("SESSION", nil, "unsupported session style %q", style)
	}
	if err := e.acquire(ctx, "SESSION"); err != nil {
		return err
	}
	defer e.release()

	e.mu.Lock()
	if e.state != StateReady {
		state := e.state
		e.mu.Unlock()
		if state == StateClosed && e.opened {
			return protocol.NewConnectionError("SESSION", protocol.ErrClosed)
		}
		return protocol.NewConfigurationError("SESSION", nil, "session engine is %s, want %s", state, StateReady)
	}
	ch, dest := e.ch, e.dest
	e.state = StateSessionPending
	e.mu.Unlock()

	req := protocol.SessionRequest{
		ID:         e.cfg.Session.ID,
		Style:      style,
		PrivateKey: dest.Private,
		Options:    e.cfg.Session.Options,
	}
	if style.IsDatagram() {
		req.Host = e.cfg.Listen.HostForward
		req.Port = e.cfg.Listen.PortForward
	}

	confirmed, err := ch.CreateSession(ctx, req)
	if err != nil {
		return e.failStep(err)
	}

	e.mu.Lock()
	e.dest = reconcile(dest, confirmed)
	e.style = style
	e.state = StateActive
	e.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":      "session.Engine.InitSession",
		"session": e.cfg.Session.ID,
		"style":   style,
	}).Info("session_active")
	return nil
}

// Lookup resolves an .i2p name while READY or ACTIVE. A failed lookup
// leaves the state unchanged.
func (e *Engine) Lookup(ctx context.Context, name string) (string, error) {
	if err := e.acquire(ctx, "NAMING"); err != nil {
		return "", err
	}
	defer e.release()

	e.mu.Lock()
	state, ch, opened := e.state, e.ch, e.opened
	e.mu.Unlock()
	switch {
	case state == StateActive, state == StateReady:
	case state == StateClosed && opened:
		return "", protocol.NewConnectionError("NAMING", protocol.ErrClosed)
	default:
		return "", protocol.NewConfigurationError("NAMING", nil, "session engine is %s", state)
	}
	return ch.Lookup(ctx, name)
}

// Close closes the control channel. The session on the bridge ends with it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	ch := e.ch
	e.state = StateClosed
	e.mu.Unlock()

	var err error
	if ch != nil {
		err = ch.Close()
	}
	e.finish()

	log.WithFields(logger.Fields{
		"at":      "session.Engine.Close",
		"session": e.cfg.Session.ID,
	}).Debug("session_engine_closed")
	return err
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error that moved the engine to ERROR, or that closed the
// control channel from the bridge side.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done is closed when the engine reaches CLOSED.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Config returns the normalized configuration.
func (e *Engine) Config() config.SAMConfig {
	return e.cfg
}

// Destination returns the held keypair.
func (e *Engine) Destination() identity.Destination {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dest
}

// PublicKey returns the base64 public destination.
func (e *Engine) PublicKey() string {
	return e.Destination().Public
}

// PrivateKey returns the base64 private destination.
func (e *Engine) PrivateKey() string {
	return e.Destination().Private
}

// B32Address returns the .b32.i2p address of the held destination.
func (e *Engine) B32Address() (string, error) {
	return e.Destination().B32Address()
}

// SessionID returns the session id used in SESSION CREATE and datagram
// headers.
func (e *Engine) SessionID() string {
	return e.cfg.Session.ID
}

// Style returns the session style, empty before ACTIVE.
func (e *Engine) Style() protocol.Style {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.style
}

func (e *Engine) acquire(ctx context.Context, op string) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-e.done:
		return protocol.NewConnectionError(op, protocol.ErrClosed)
	case <-ctx.Done():
		return protocol.FromContext(op, ctx.Err())
	}
}

func (e *Engine) release() {
	<-e.sem
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return
	}
	e.state = s
}

// failStep records err and moves to ERROR unless the engine already closed.
func (e *Engine) failStep(err error) error {
	e.mu.Lock()
	from := e.state
	if !e.closing && e.state != StateClosed {
		e.state = StateError
	}
	e.err = err
	e.mu.Unlock()

	log.WithError(err).WithFields(logger.Fields{
		"at":      "session.Engine.failStep",
		"session": e.cfg.Session.ID,
		"state":   from.String(),
	}).Warn("session_step_failed")
	return err
}

// watch moves the engine to CLOSED when the control channel terminates.
func (e *Engine) watch(ch *control.Channel) {
	<-ch.Done()
	e.mu.Lock()
	closing := e.closing
	e.state = StateClosed
	if !closing && e.err == nil {
		e.err = ch.Err()
	}
	e.mu.Unlock()

	if !closing {
		log.WithError(ch.Err()).WithFields(logger.Fields{
			"at":      "session.Engine.watch",
			"session": e.cfg.Session.ID,
		}).Warn("control_channel_lost")
	}
	e.finish()
}

func (e *Engine) finish() {
	e.doneOnce.Do(func() { close(e.done) })
}

// reconcile applies the DESTINATION value of SESSION STATUS to the held
// keypair. Bridges answer with the private or the public destination.
func reconcile(held identity.Destination, confirmed string) identity.Destination {
	if confirmed == held.Private || confirmed == held.Public {
		return held
	}
	if d, err := identity.FromPrivate(confirmed); err == nil {
		return d
	}
	log.WithFields(logger.Fields{
		"at": "session.reconcile",
	}).Debug("confirmed_destination_treated_as_public")
	return identity.Destination{Public: confirmed, Private: held.Private}
}
