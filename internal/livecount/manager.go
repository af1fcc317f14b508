package livecount

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gymaccess/internal/metrics"
)

// State is the connectivity of a Manager.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Update is delivered to subscribers on every state change and every
// received frame. Message is nil for pure state changes.
type Update struct {
	State   State
	Message Message
}

// Options tune a Manager. Start from DefaultOptions.
type Options struct {
	ReconnectDelay   time.Duration
	AutoReconnect    bool
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Dialer           Dialer
	Metrics          *metrics.LiveCount
}

// DefaultOptions reconnects every 5s, forever, over WebSocket.
func DefaultOptions() Options {
	return Options{
		ReconnectDelay:   5 * time.Second,
		AutoReconnect:    true,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evSend
	evDialed
	evFrame
	evClosed
	evRetry
)

type event struct {
	kind eventKind
	gen  uint64
	conn Conn
	err  error
	data []byte
}

type subscriber struct {
	id int
	fn func(Update)
}

// Manager keeps one connection to the live-count device open and fans
// decoded frames out to subscribers.
//
// All commands and network events are handled one at a time on a single loop
// goroutine, and subscribers are called from that goroutine, so every update
// reaches every subscriber before the next event is looked at. Subscribers
// must return quickly. They may call Connect, Disconnect, Send and Close;
// those calls never block on the loop and take effect after the current
// delivery.
type Manager struct {
	addr string
	opts Options

	inbox  chan event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Connect and Disconnect are queued here rather than in inbox so a
	// caller on the loop goroutine never waits on a full inbox.
	cmdMu      sync.Mutex
	cmds       []event
	wake       chan struct{}
	delivering atomic.Bool

	mu     sync.RWMutex
	state  State
	latest Message
	subs   []subscriber
	nextID int

	// owned by the loop goroutine
	conn     Conn
	stopRead context.CancelFunc
	gen      uint64
	timer    *time.Timer
	manual   bool
}

// New starts a Manager for addr in the Disconnected state. Call Connect to
// open the connection and Close to release it.
func New(addr string, opts Options) *Manager {
	def := DefaultOptions()
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		addr:   addr,
		opts:   opts,
		inbox:  make(chan event, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	opts.Metrics.SetState(int(Disconnected))
	go m.run()
	return m
}

// Connect opens the connection. It is a no-op while connecting or connected.
func (m *Manager) Connect() { m.command(event{kind: evConnect}) }

// Disconnect closes the connection and cancels any scheduled reconnect.
// Auto-reconnect stays off until the next Connect.
func (m *Manager) Disconnect() { m.command(event{kind: evDisconnect}) }

// Send transmits payload when connected. Otherwise the payload is dropped,
// logged and counted. It never blocks.
func (m *Manager) Send(payload []byte) {
	if m.State() != Connected {
		m.dropSend("not connected")
		return
	}
	ev := event{kind: evSend, data: append([]byte(nil), payload...)}
	select {
	case m.inbox <- ev:
	default:
		m.dropSend("inbox full")
	}
}

// Subscribe registers fn for every future update.
func (m *Manager) Subscribe(fn func(Update)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// State returns the current connectivity.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Latest returns the most recent decoded frame, if any was ever received.
func (m *Manager) Latest() (Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.latest != nil
}

// Close stops the loop and releases the transport. The Manager is unusable
// afterwards. Close waits for the loop to finish, except while a delivery is
// in progress: a subscriber calling Close would otherwise wait on itself, so
// in that case the loop finishes after the subscriber returns.
func (m *Manager) Close() {
	m.cancel()
	if m.delivering.Load() {
		return
	}
	<-m.done
}

// command queues a Connect or Disconnect. It never blocks.
func (m *Manager) command(ev event) {
	if m.ctx.Err() != nil {
		return
	}
	m.cmdMu.Lock()
	m.cmds = append(m.cmds, ev)
	m.cmdMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) takeCommands() []event {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	cmds := m.cmds
	m.cmds = nil
	return cmds
}

func (m *Manager) post(ev event) bool {
	select {
	case m.inbox <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.inbox:
			m.handle(ev)
		case <-m.wake:
			for _, ev := range m.takeCommands() {
				m.handle(ev)
			}
		case <-m.ctx.Done():
			m.shutdown()
			return
		}
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case evConnect:
		if m.state != Disconnected {
			return
		}
		m.manual = false
		m.stopTimer()
		m.dial()

	case evDisconnect:
		m.manual = true
		m.stopTimer()
		m.gen++
		m.closeConn()
		m.setState(Disconnected)

	case evSend:
		if m.state != Connected || m.conn == nil {
			m.dropSend("not connected")
			return
		}
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.WriteTimeout)
		err := m.conn.Write(ctx, ev.data)
		cancel()
		if err != nil {
			log.Printf("live-count write failed: %v", err)
		}

	case evDialed:
		if ev.gen != m.gen {
			if ev.conn != nil {
				go ev.conn.Close()
			}
			return
		}
		if ev.err != nil {
			log.Printf("warning: live-count connect to %s failed: %v", m.addr, ev.err)
			m.setState(Disconnected)
			m.scheduleReconnect()
			return
		}
		readCtx, stop := context.WithCancel(m.ctx)
		m.conn, m.stopRead = ev.conn, stop
		log.Printf("live-count connected: %s", m.addr)
		m.setState(Connected)
		go m.read(readCtx, ev.gen, ev.conn)

	case evFrame:
		if ev.gen != m.gen {
			return
		}
		msg := Decode(ev.data)
		_, unknown := msg.(Unknown)
		m.opts.Metrics.Message(unknown)

		m.mu.Lock()
		m.latest = msg
		state := m.state
		m.mu.Unlock()
		m.deliver(Update{State: state, Message: msg})

	case evClosed:
		if ev.gen != m.gen {
			return
		}
		log.Printf("live-count connection closed: %v", ev.err)
		m.closeConn()
		m.setState(Disconnected)
		m.scheduleReconnect()

	case evRetry:
		if ev.gen != m.gen || m.state != Disconnected || m.manual {
			return
		}
		m.timer = nil
		m.opts.Metrics.Reconnect()
		m.dial()
	}
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.setState(Connecting)

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.HandshakeTimeout)
		defer cancel()
		conn, err := m.opts.Dialer(ctx, m.addr)
		if !m.post(event{kind: evDialed, gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) read(ctx context.Context, gen uint64, c Conn) {
	for {
		data, err := c.Read(ctx)
		if err != nil {
			m.post(event{kind: evClosed, gen: gen, err: err})
			return
		}
		if !m.post(event{kind: evFrame, gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) scheduleReconnect() {
	if m.manual || !m.opts.AutoReconnect {
		return
	}
	m.stopTimer()
	gen := m.gen
	log.Printf("live-count reconnecting in %s", m.opts.ReconnectDelay)
	m.timer = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.post(event{kind: evRetry, gen: gen})
	})
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) closeConn() {
	if m.stopRead != nil {
		m.stopRead()
		m.stopRead = nil
	}
	if m.conn != nil {
		// close handshakes can wait on the peer; keep the loop free
		go m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.opts.Metrics.SetState(int(s))
	m.deliver(Update{State: s})
}

func (m *Manager) deliver(u Update) {
	m.mu.RLock()
	subs := append([]subscriber(nil), m.subs...)
	m.mu.RUnlock()

	m.delivering.Store(true)
	defer m.delivering.Store(false)
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("live-count subscriber panicked: %v", r)
				}
			}()
			s.fn(u)
		}()
	}
}

func (m *Manager) dropSend(reason string) {
	log.Printf("warning: live-count send dropped: %s", reason)
	m.opts.Metrics.DroppedSend()
}

func (m *Manager) shutdown() {
	m.stopTimer()
	m.gen++
	m.closeConn()
	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	m.opts.Metrics.SetState(int(Disconnected))
}
