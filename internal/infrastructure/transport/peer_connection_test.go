package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"midimesh/internal/core/domain"

	"go.uber.org/zap"
)

// recordingHandler collects transport notifications for assertions.
type recordingHandler struct {
	mu     sync.Mutex
	events []domain.Event
	stamps []int64
	states []domain.ConnectionState
	errs   []error

	gotEvent chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{gotEvent: make(chan struct{}, 64)}
}

func (h *recordingHandler) OnEvent(_ domain.PeerID, e domain.Event, localRecv int64) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.stamps = append(h.stamps, localRecv)
	h.mu.Unlock()
	h.gotEvent <- struct{}{}
}

func (h *recordingHandler) OnStateChange(_ domain.PeerID, _, to domain.ConnectionState) {
	h.mu.Lock()
	h.states = append(h.states, to)
	h.mu.Unlock()
}

func (h *recordingHandler) OnError(_ domain.PeerID, err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *recordingHandler) lastState() domain.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return ""
	}
	return h.states[len(h.states)-1]
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// dialedPair connects an outbound PeerConnection to a local listener and
// returns both ends plus the accepted raw stream wrapped in its own
// PeerConnection.
func dialedPair(t *testing.T) (*PeerConnection, *recordingHandler, *PeerConnection, *recordingHandler) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	outHandler := newRecordingHandler()
	out := NewPeerConnection("peer-a", "a", outHandler, DefaultOptions(), testLogger(), nil)

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	if err := out.Connect(context.Background(), "127.0.0.1", port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { out.Disconnect() })

	var inConn net.Conn
	select {
	case inConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound connection")
	}

	inHandler := newRecordingHandler()
	in := NewPeerConnection("peer-b", "b", inHandler, DefaultOptions(), testLogger(), nil)
	if err := in.Accept(inConn); err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { in.Disconnect() })

	return out, outHandler, in, inHandler
}

func TestSendEvent_NotConnected(t *testing.T) {
	h := newRecordingHandler()
	pc := NewPeerConnection("p", "p", h, DefaultOptions(), testLogger(), nil)

	err := pc.SendEvent(domain.NoteOn(0, 60, 100, 0))
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestConnect_WhileConnected(t *testing.T) {
	out, _, _, _ := dialedPair(t)

	err := out.Connect(context.Background(), "127.0.0.1", 1)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
}

func TestConnect_RefusedMovesToFailed(t *testing.T) {
	// A closed listener port refuses immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	h := newRecordingHandler()
	pc := NewPeerConnection("p", "p", h, DefaultOptions(), testLogger(), nil)
	if err := pc.Connect(context.Background(), "127.0.0.1", port); err == nil {
		t.Fatal("expected dial error")
	}
	if got := pc.State(); got != domain.StateFailed {
		t.Fatalf("state %s, want failed", got)
	}

	// Failed is retryable; a second Connect is a valid transition even if
	// the dial fails again.
	if err := pc.Connect(context.Background(), "127.0.0.1", port); errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("reconnect from failed rejected: %v", err)
	}
}

func TestLoopback_EndToEnd(t *testing.T) {
	out, _, in, inHandler := dialedPair(t)

	want := domain.NoteOn(0, 60, 100, 0)
	if err := out.SendEvent(want); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-inHandler.gotEvent:
	case <-time.After(2 * time.Second):
		t.Fatal("event did not arrive")
	}

	inHandler.mu.Lock()
	got := inHandler.events[0]
	stamp := inHandler.stamps[0]
	inHandler.mu.Unlock()

	if got.Kind != want.Kind || got.Channel != want.Channel ||
		got.Data1 != want.Data1 || got.Data2 != want.Data2 ||
		got.TimestampMicros != want.TimestampMicros {
		t.Errorf("received %+v, want %+v", got, want)
	}
	if stamp <= 0 {
		t.Errorf("local receive stamp %d, want > 0", stamp)
	}
	if sent := out.Stats().MessagesSent; sent != 1 {
		t.Errorf("sender counted %d sent, want 1", sent)
	}
	if recvd := in.Stats().MessagesReceived; recvd != 1 {
		t.Errorf("receiver counted %d received, want 1", recvd)
	}
}

func TestLoopback_FIFOOrder(t *testing.T) {
	out, _, _, inHandler := dialedPair(t)

	const n = 50
	for i := 0; i < n; i++ {
		if err := out.SendEvent(domain.ControlChange(0, 1, byte(i%128), int64(i))); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		select {
		case <-inHandler.gotEvent:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d events arrived", i, n)
		}
	}

	inHandler.mu.Lock()
	defer inHandler.mu.Unlock()
	for i, e := range inHandler.events {
		if e.TimestampMicros != int64(i) {
			t.Fatalf("event %d has timestamp %d: reordered", i, e.TimestampMicros)
		}
	}
}

func TestSendEventNow_CountsAgainstSent(t *testing.T) {
	out, _, _, inHandler := dialedPair(t)

	if err := out.SendEventNow(domain.SystemRealtime(domain.KindClock, 1)); err != nil {
		t.Fatalf("send now: %v", err)
	}
	select {
	case <-inHandler.gotEvent:
	case <-time.After(2 * time.Second):
		t.Fatal("event did not arrive")
	}
	if sent := out.Stats().MessagesSent; sent != 1 {
		t.Errorf("sent counter %d, want 1", sent)
	}
}

func TestDisconnect_WhileReceiving(t *testing.T) {
	out, outHandler, _, _ := dialedPair(t)

	// The receive loop is parked in ReadFrame; Disconnect must still
	// complete promptly.
	done := make(chan struct{})
	go func() {
		out.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect did not complete")
	}
	if got := out.State(); got != domain.StateDisconnected {
		t.Fatalf("state %s, want disconnected", got)
	}
	if got := outHandler.lastState(); got != domain.StateDisconnected {
		t.Fatalf("last notified state %s, want disconnected", got)
	}

	// Second call is a no-op.
	if err := out.Disconnect(); err != nil {
		t.Fatalf("repeat disconnect: %v", err)
	}
}

func TestRemoteClose_MovesToFailed(t *testing.T) {
	out, outHandler, in, _ := dialedPair(t)

	in.Disconnect()

	deadline := time.After(3 * time.Second)
	for out.State() != domain.StateFailed {
		select {
		case <-deadline:
			t.Fatalf("state %s, want failed after remote close", out.State())
		case <-time.After(10 * time.Millisecond):
		}
	}

	outHandler.mu.Lock()
	gotErr := len(outHandler.errs) > 0
	outHandler.mu.Unlock()
	if !gotErr {
		t.Error("no error notification after remote close")
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	h := newRecordingHandler()
	pc := NewPeerConnection("p", "p", h, DefaultOptions(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// 203.0.113.0/24 is TEST-NET; the dial cannot complete before the
	// cancelled context unwinds it.
	if err := pc.Connect(ctx, "203.0.113.1", 9); err == nil {
		t.Fatal("expected cancelled dial to fail")
	}
	if got := pc.State(); got != domain.StateFailed {
		t.Fatalf("state %s, want failed", got)
	}
}

func TestUpdateTimeSync_Accessors(t *testing.T) {
	h := newRecordingHandler()
	pc := NewPeerConnection("p", "p", h, DefaultOptions(), testLogger(), nil)

	pc.UpdateTimeSync(100000, 5000000, 4900000)
	if got := pc.ClockOffsetMicros(); got != 150000 {
		t.Fatalf("offset %d, want 150000", got)
	}
	if got := pc.AdjustTimestamp(5000000); got != 4850000 {
		t.Fatalf("adjusted %d, want 4850000", got)
	}
	if got := pc.EstimatedLatencyMs(); got != 50.0 {
		t.Fatalf("latency %.3f, want 50.0", got)
	}
}
