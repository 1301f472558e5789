package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	reconnectAttempts = 10
	reconnectDelay    = 1 * time.Second
	reconnectDelayMax = 5 * time.Second
)

type requestResult struct {
	data json.RawMessage
	err  error
}

// Socket owns the single shared connection to the game server. It multiplexes
// acknowledged requests and broadcast events over one transport, reports
// connectivity changes to any number of watchers, and reconnects with bounded
// backoff when the transport drops.
//
// A Socket is explicitly constructed and explicitly closed; nothing about it
// is process-global.
type Socket struct {
	cfg *Config

	// Reconnect policy, fixed at construction.
	maxAttempts int
	retryDelay  time.Duration
	retryMax    time.Duration

	mu        sync.Mutex
	tr        transport
	connected bool
	closed    bool
	attempts  int

	nextID   int64
	pending  map[int64]chan requestResult
	nextSub  int64
	subs     map[int64]func(Event)
	watchers map[int64]func(bool)

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSocket(cfg *Config) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		cfg:         cfg,
		maxAttempts: reconnectAttempts,
		retryDelay:  reconnectDelay,
		retryMax:    reconnectDelayMax,
		pending:     make(map[int64]chan requestResult),
		subs:        make(map[int64]func(Event)),
		watchers:    make(map[int64]func(bool)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Connect dials the server unless a connection already exists. Repeated calls
// without an intervening Disconnect are no-ops. Automatic reconnection after
// a drop is handled internally; Connect only reports the initial dial result.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.tr != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	tr, err := dialTransport(ctx, s.cfg)
	if err != nil {
		return err
	}

	s.install(tr)
	return nil
}

func (s *Socket) install(tr transport) {
	s.mu.Lock()
	if s.closed || s.tr != nil {
		// Either torn down, or another dial won the race; the standing
		// transport keeps its read loop and this one is discarded.
		s.mu.Unlock()
		tr.close()
		return
	}
	s.tr = tr
	s.connected = true
	s.attempts = 0
	s.mu.Unlock()

	logf(s.cfg, "CONN: connected via %s", tr.name())
	s.notifyWatchers(true)

	go s.readLoop(tr)
}

// Disconnect tears the connection down and clears the shared handle. A
// subsequent Connect builds a fresh one.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.closed = true
	tr := s.tr
	s.tr = nil
	s.connected = false
	s.failPendingLocked(ErrSessionClosed)
	s.mu.Unlock()

	s.cancel()
	if tr != nil {
		tr.close()
		s.notifyWatchers(false)
	}
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnConnectivity registers a watcher for the boolean connectivity signal. The
// watcher is invoked immediately with the current state, then on every
// change. The returned func removes it.
func (s *Socket) OnConnectivity(fn func(bool)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.watchers[id] = fn
	current := s.connected
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Subscribe registers a handler for inbound broadcast events. Registration
// survives reconnects; the handler is never registered twice and the returned
// func removes it exactly once.
func (s *Socket) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Request sends a named message and suspends the caller until the server's
// acknowledgement arrives, the context is cancelled, or the connection is
// lost. Without a live connection it fails immediately with ErrNotConnected.
func (s *Socket) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if !s.connected || s.tr == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	tr := s.tr
	s.nextID++
	id := s.nextID
	ch := make(chan requestResult, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	if err := tr.send(envelope{Event: event, ID: id, Data: data}); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (s *Socket) readLoop(tr transport) {
	for {
		e, err := tr.receive()
		if err != nil {
			s.handleDrop(tr)
			return
		}

		if e.Event == ackEvent {
			s.mu.Lock()
			ch, ok := s.pending[e.ID]
			if ok {
				delete(s.pending, e.ID)
			}
			s.mu.Unlock()
			if ok {
				ch <- requestResult{data: e.Data}
			}
			continue
		}

		ev, err := decodeEvent(e.Event, e.Data)
		if err != nil {
			logf(s.cfg, "CONN: dropping malformed event: %v", err)
			continue
		}

		s.mu.Lock()
		handlers := make([]func(Event), 0, len(s.subs))
		for _, fn := range s.subs {
			handlers = append(handlers, fn)
		}
		s.mu.Unlock()

		for _, fn := range handlers {
			fn(ev)
		}
	}
}

func (s *Socket) handleDrop(tr transport) {
	s.mu.Lock()
	if s.tr != tr {
		// A newer transport already replaced this one.
		s.mu.Unlock()
		return
	}
	s.tr = nil
	s.connected = false
	closed := s.closed
	s.failPendingLocked(ErrConnectionLost)
	s.mu.Unlock()

	tr.close()

	if closed {
		return
	}

	logf(s.cfg, "CONN: connection dropped")
	s.notifyWatchers(false)

	go s.reconnectLoop()
}

// failPendingLocked resolves every in-flight request with err. Callers must
// hold s.mu.
func (s *Socket) failPendingLocked(err error) {
	for id, ch := range s.pending {
		delete(s.pending, id)
		ch <- requestResult{err: err}
	}
}

// reconnectLoop retries the dial with increasing delay, up to maxAttempts.
// Once exhausted, the socket stays disconnected for good and watchers keep
// seeing false.
func (s *Socket) reconnectLoop() {
	delay := s.retryDelay

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.closed || s.tr != nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		logf(s.cfg, "CONN: reconnect attempt %d/%d", attempt, s.maxAttempts)

		dialCtx, cancel := context.WithTimeout(s.ctx, dialTimeout)
		tr, err := dialTransport(dialCtx, s.cfg)
		cancel()
		if err == nil {
			s.install(tr)
			return
		}

		delay = min(delay*2, s.retryMax)
	}

	logf(s.cfg, "CONN: reconnect attempts exhausted, giving up")
}

func (s *Socket) notifyWatchers(up bool) {
	s.mu.Lock()
	watchers := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(up)
	}
}
