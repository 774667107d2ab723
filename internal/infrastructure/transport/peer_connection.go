package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"
	"midimesh/internal/infrastructure/wire"
	"midimesh/pkg/logger"

	"go.uber.org/zap"
)

// Options configures one peer transport link.
type Options struct {
	ConnectTimeout  time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	NoDelay         bool
	SendQueueSize   int
	OffsetStrategy  OffsetStrategy
}

// DefaultOptions match the protocol defaults: 10s dial timeout, 8 KiB socket
// buffers, Nagle disabled for latency.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  10 * time.Second,
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		NoDelay:         true,
		SendQueueSize:   256,
		OffsetStrategy:  OffsetRecent,
	}
}

// sessionEpoch anchors the monotonic microsecond clock stamped on received
// events.
var sessionEpoch = time.Now()

// NowMicros returns monotonic microseconds since process start.
func NowMicros() int64 {
	return time.Since(sessionEpoch).Microseconds()
}

// PeerConnection owns one reliable stream to a remote peer. It drives the
// connection state machine, runs a send and a receive goroutine, and keeps
// the clock-offset estimate for the link. The ID is stable across
// reconnects; only the transport underneath is replaced.
type PeerConnection struct {
	id          domain.PeerID
	displayName string
	opts        Options
	handler     ports.ConnectionHandler
	metrics     ports.MetricsCollector
	logger      *zap.SugaredLogger

	// mu guards state, conn lifecycle, clock and connectedSince. It is never
	// held across I/O or handler callbacks.
	mu             sync.Mutex
	state          domain.ConnectionState
	conn           net.Conn
	remoteAddr     string
	connectedSince time.Time
	clock          *clockSync

	// writeMu serializes frame writes between the send loop and SendEventNow.
	writeMu sync.Mutex

	sendQ  chan domain.Event
	cancel context.CancelFunc
	loops  sync.WaitGroup

	sent     atomic.Uint64
	received atomic.Uint64
}

// NewPeerConnection builds a connection in the Disconnected state. handler
// must be non-nil; metrics may be nil.
func NewPeerConnection(id domain.PeerID, displayName string, handler ports.ConnectionHandler, opts Options, log *zap.SugaredLogger, metrics ports.MetricsCollector) *PeerConnection {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultOptions().SendQueueSize
	}
	return &PeerConnection{
		id:          id,
		displayName: displayName,
		opts:        opts,
		handler:     handler,
		metrics:     metrics,
		logger:      scopedLogger(log, id, displayName),
		state:       domain.StateDisconnected,
		clock:       newClockSync(opts.OffsetStrategy),
	}
}

func scopedLogger(log *zap.SugaredLogger, id domain.PeerID, name string) *zap.SugaredLogger {
	if log == nil {
		return nil
	}
	return logger.ForPeer(log, string(id), name)
}

func (pc *PeerConnection) ID() domain.PeerID   { return pc.id }
func (pc *PeerConnection) DisplayName() string { return pc.displayName }

func (pc *PeerConnection) State() domain.ConnectionState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

func (pc *PeerConnection) RemoteAddress() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remoteAddr
}

// Stats snapshots the link counters and clock estimates.
func (pc *PeerConnection) Stats() domain.PeerStats {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return domain.PeerStats{
		MessagesSent:       pc.sent.Load(),
		MessagesReceived:   pc.received.Load(),
		EstimatedLatencyMs: pc.clock.estimatedLatencyMs,
		ClockOffsetMicros:  pc.clock.clockOffsetMicros,
		ConnectedSince:     pc.connectedSince,
	}
}

// Connect dials the remote peer and starts the I/O loops. Valid only from
// Disconnected or Failed; ctx cancels an in-progress dial without leaking
// the half-open socket.
func (pc *PeerConnection) Connect(ctx context.Context, host string, port int) error {
	pc.mu.Lock()
	if pc.state != domain.StateDisconnected && pc.state != domain.StateFailed {
		st := pc.state
		pc.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", domain.ErrInvalidState, st)
	}
	from := pc.state
	pc.state = domain.StateConnecting
	pc.mu.Unlock()
	pc.notifyState(from, domain.StateConnecting)

	dialer := net.Dialer{Timeout: pc.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		pc.mu.Lock()
		pc.state = domain.StateFailed
		pc.mu.Unlock()
		pc.notifyState(domain.StateConnecting, domain.StateFailed)
		pc.handler.OnError(pc.id, fmt.Errorf("dial %s:%d: %w", host, port, err))
		return fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	pc.start(conn)
	return nil
}

// Accept adopts an already-established inbound stream and starts the same
// loops Connect does.
func (pc *PeerConnection) Accept(conn net.Conn) error {
	pc.mu.Lock()
	if pc.state != domain.StateDisconnected && pc.state != domain.StateFailed {
		st := pc.state
		pc.mu.Unlock()
		return fmt.Errorf("%w: accept while %s", domain.ErrInvalidState, st)
	}
	from := pc.state
	pc.state = domain.StateConnecting
	pc.mu.Unlock()
	pc.notifyState(from, domain.StateConnecting)

	pc.start(conn)
	return nil
}

func (pc *PeerConnection) start(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(pc.opts.NoDelay)
		if pc.opts.ReadBufferSize > 0 {
			tcp.SetReadBuffer(pc.opts.ReadBufferSize)
		}
		if pc.opts.WriteBufferSize > 0 {
			tcp.SetWriteBuffer(pc.opts.WriteBufferSize)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	pc.mu.Lock()
	pc.conn = conn
	pc.remoteAddr = conn.RemoteAddr().String()
	pc.connectedSince = time.Now()
	pc.sendQ = make(chan domain.Event, pc.opts.SendQueueSize)
	pc.cancel = cancel
	pc.state = domain.StateConnected
	pc.mu.Unlock()

	pc.loops.Add(2)
	go pc.receiveLoop(ctx, conn)
	go pc.sendLoop(ctx, conn)

	pc.notifyState(domain.StateConnecting, domain.StateConnected)
	if pc.metrics != nil {
		pc.metrics.RecordPeerConnected("")
	}
	if pc.logger != nil {
		pc.logger.Infow("peer connected", "remote_addr", pc.remoteAddr)
	}
}

// SendEvent enqueues an event for the send loop. It never blocks: a full
// queue returns ErrSendQueueFull and the event is dropped (loss is surfaced,
// not hidden behind backpressure).
func (pc *PeerConnection) SendEvent(event domain.Event) error {
	pc.mu.Lock()
	if pc.state != domain.StateConnected {
		st := pc.state
		pc.mu.Unlock()
		return fmt.Errorf("%w: state %s", domain.ErrNotConnected, st)
	}
	q := pc.sendQ
	pc.mu.Unlock()

	select {
	case q <- event:
		return nil
	default:
		return fmt.Errorf("%w: %d events pending", domain.ErrSendQueueFull, cap(q))
	}
}

// SendEventNow bypasses the queue and writes the event directly under the
// write lock. Intended for control traffic that must not wait behind a
// backlog of performance events.
func (pc *PeerConnection) SendEventNow(event domain.Event) error {
	pc.mu.Lock()
	if pc.state != domain.StateConnected {
		st := pc.state
		pc.mu.Unlock()
		return fmt.Errorf("%w: state %s", domain.ErrNotConnected, st)
	}
	conn := pc.conn
	pc.mu.Unlock()

	pc.writeMu.Lock()
	err := wire.WriteFrame(conn, wire.EncodeEvent(event))
	pc.writeMu.Unlock()
	if err != nil {
		pc.fail(fmt.Errorf("write frame: %w", err))
		return fmt.Errorf("write frame: %w", err)
	}
	pc.sent.Add(1)
	if pc.metrics != nil {
		pc.metrics.RecordEventSent(event.Kind)
	}
	return nil
}

func (pc *PeerConnection) receiveLoop(ctx context.Context, conn net.Conn) {
	defer pc.loops.Done()
	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, domain.ErrProtocolViolation) {
				// A bad length prefix costs one frame, not the connection.
				if pc.logger != nil {
					pc.logger.Warnw("dropping malformed frame", "error", err)
				}
				if pc.metrics != nil {
					pc.metrics.RecordProtocolViolation()
				}
				continue
			}
			if ctx.Err() != nil {
				return // deliberate shutdown
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("remote peer closed the stream: %w", err)
			}
			pc.fail(err)
			return
		}

		event, _, err := wire.DecodeEvent(payload, 0)
		if err != nil {
			if pc.logger != nil {
				pc.logger.Warnw("dropping undecodable frame", "error", err)
			}
			if pc.metrics != nil {
				pc.metrics.RecordProtocolViolation()
			}
			continue
		}

		pc.received.Add(1)
		if pc.metrics != nil {
			pc.metrics.RecordEventReceived(event.Kind)
		}
		pc.handler.OnEvent(pc.id, event, NowMicros())
	}
}

func (pc *PeerConnection) sendLoop(ctx context.Context, conn net.Conn) {
	defer pc.loops.Done()

	pc.mu.Lock()
	q := pc.sendQ
	pc.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-q:
			pc.writeMu.Lock()
			err := wire.WriteFrame(conn, wire.EncodeEvent(event))
			pc.writeMu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				pc.fail(fmt.Errorf("write frame: %w", err))
				return
			}
			pc.sent.Add(1)
			if pc.metrics != nil {
				pc.metrics.RecordEventSent(event.Kind)
			}
		}
	}
}

// fail moves the connection to Failed after an I/O error, stops both loops
// and tears the transport down. A fail that races with Disconnect loses.
func (pc *PeerConnection) fail(cause error) {
	pc.mu.Lock()
	if pc.state != domain.StateConnected && pc.state != domain.StateConnecting {
		pc.mu.Unlock()
		return
	}
	from := pc.state
	pc.state = domain.StateFailed
	cancel := pc.cancel
	conn := pc.conn
	pc.conn = nil
	pc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	pc.notifyState(from, domain.StateFailed)
	pc.handler.OnError(pc.id, cause)
	if pc.metrics != nil {
		pc.metrics.RecordPeerDisconnected("")
	}
	if pc.logger != nil {
		pc.logger.Warnw("peer connection failed", "error", cause)
	}
}

// Disconnect stops both loops, waits for them to exit and releases the
// transport. Idempotent: calling it on an already-Disconnected connection is
// a no-op.
func (pc *PeerConnection) Disconnect() error {
	pc.mu.Lock()
	switch pc.state {
	case domain.StateDisconnected:
		pc.mu.Unlock()
		return nil
	case domain.StateDisconnecting:
		pc.mu.Unlock()
		return nil
	case domain.StateFailed:
		// Loops are already gone; just settle the terminal state.
		pc.state = domain.StateDisconnected
		pc.mu.Unlock()
		pc.notifyState(domain.StateFailed, domain.StateDisconnected)
		return nil
	}
	from := pc.state
	pc.state = domain.StateDisconnecting
	cancel := pc.cancel
	conn := pc.conn
	pc.conn = nil
	pc.mu.Unlock()

	pc.notifyState(from, domain.StateDisconnecting)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// Closing unblocks a receive loop parked inside ReadFrame.
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		pc.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if pc.logger != nil {
			pc.logger.Errorw("i/o loops did not stop in time")
		}
	}

	pc.mu.Lock()
	pc.state = domain.StateDisconnected
	pc.mu.Unlock()
	pc.notifyState(domain.StateDisconnecting, domain.StateDisconnected)
	if pc.metrics != nil {
		pc.metrics.RecordPeerDisconnected("")
	}
	return nil
}

// UpdateTimeSync feeds one round-trip measurement into the latency ring and
// recomputes the latency and clock-offset estimates. Pass zero for both
// timestamps to refresh latency only.
func (pc *PeerConnection) UpdateTimeSync(roundTripMicros, remoteTimestamp, localReceiveTimestamp int64) {
	pc.mu.Lock()
	pc.clock.update(roundTripMicros, remoteTimestamp, localReceiveTimestamp)
	latency := pc.clock.estimatedLatencyMs
	offset := pc.clock.clockOffsetMicros
	pc.mu.Unlock()

	if pc.metrics != nil {
		pc.metrics.RecordRoundTrip(float64(roundTripMicros) / 1e6)
		pc.metrics.RecordClockOffset(pc.id, offset)
	}
	if pc.logger != nil {
		pc.logger.Debugw("time sync updated",
			"latency_ms", latency,
			"offset_micros", offset,
		)
	}
}

// AdjustTimestamp converts a remote-clock event timestamp into local-clock
// microseconds for playback scheduling.
func (pc *PeerConnection) AdjustTimestamp(remoteMicros int64) int64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.clock.adjust(remoteMicros)
}

func (pc *PeerConnection) EstimatedLatencyMs() float64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.clock.estimatedLatencyMs
}

func (pc *PeerConnection) ClockOffsetMicros() int64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.clock.clockOffsetMicros
}

func (pc *PeerConnection) notifyState(from, to domain.ConnectionState) {
	pc.handler.OnStateChange(pc.id, from, to)
}
