package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Listener accepts inbound transport streams and wraps each one in a
// PeerConnection. Admission of the peer into a session stays with the
// control plane; the listener only provides the event transport.
type Listener struct {
	addr    string
	opts    Options
	handler ports.ConnectionHandler
	metrics ports.MetricsCollector
	logger  *zap.SugaredLogger

	// OnAccept, when set, receives every accepted connection after its
	// loops have started.
	OnAccept func(*PeerConnection)

	ln net.Listener
}

func NewListener(addr string, opts Options, handler ports.ConnectionHandler, logger *zap.SugaredLogger, metrics ports.MetricsCollector) *Listener {
	return &Listener{
		addr:    addr,
		opts:    opts,
		handler: handler,
		metrics: metrics,
		logger:  logger,
	}
}

// Addr returns the bound address, valid after Serve has started listening.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Listen binds the listener socket without accepting yet, so callers can
// learn the ephemeral port before starting Serve.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}
	l.ln = ln
	return nil
}

// Serve accepts connections until ctx is cancelled. Each accepted stream
// gets a fresh PeerConnection with a generated ID; the control plane may
// later rebind the peer to its stable identity.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		if err := l.Listen(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	l.logger.Infow("event transport listening", "addr", l.ln.Addr().String())
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warnw("accept failed", "error", err)
			continue
		}

		pc := NewPeerConnection(
			domain.PeerID(uuid.NewString()),
			conn.RemoteAddr().String(),
			l.handler,
			l.opts,
			l.logger,
			l.metrics,
		)
		if err := pc.Accept(conn); err != nil {
			l.logger.Warnw("failed to adopt inbound stream", "error", err)
			conn.Close()
			continue
		}
		if l.OnAccept != nil {
			l.OnAccept(pc)
		}
	}
}
