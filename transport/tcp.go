package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/luma/antenna/htsmsg"
)

// Conn is the byte-stream boundary the session engine talks through.
// Exactly one frame is sent or received per call; a failure of either
// invalidates the connection for further use.
type Conn interface {
	Send(ctx context.Context, msg htsmsg.Message) error
	Recv(ctx context.Context) (htsmsg.Message, error)
	Close() error
}

// TCP is the production Conn, a single framed TCP connection to the
// media server.
type TCP struct {
	conn net.Conn

	// Frames are decoded from the buffered side so short reads never
	// split a field
	r *bufio.Reader

	log   *zap.Logger
	trace bool
}

var _ Conn = (*TCP)(nil)

// Dial connects to the media server described by options.
func Dial(ctx context.Context, options Options) (*TCP, error) {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	addr := net.JoinHostPort(options.Host, strconv.Itoa(options.Port))

	dialer := net.Dialer{Timeout: options.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to %s: %w", addr, err)
	}

	log.Info("Connected", zap.String("addr", addr))

	return &TCP{
		conn:  conn,
		r:     bufio.NewReader(conn),
		log:   log,
		trace: options.Trace,
	}, nil
}

func (t *TCP) Send(ctx context.Context, msg htsmsg.Message) error {
	if err := t.conn.SetWriteDeadline(deadlineFrom(ctx)); err != nil {
		return fmt.Errorf("Failed to arm write deadline: %w", err)
	}

	if t.trace {
		t.log.Debug("send", zap.Any("msg", msg))
	}

	if err := htsmsg.Write(t.conn, msg); err != nil {
		return fmt.Errorf("Failed to send frame: %w", err)
	}

	return nil
}

func (t *TCP) Recv(ctx context.Context) (htsmsg.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := t.conn.SetReadDeadline(deadlineFrom(ctx)); err != nil {
		return nil, fmt.Errorf("Failed to arm read deadline: %w", err)
	}

	stop := t.interruptOnCancel(ctx)
	defer stop()

	msg, err := htsmsg.ReadMessage(t.r)
	if err != nil {
		// A cancellation expires the read deadline to unblock us; report
		// it as the context's error, not as a socket timeout
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("Failed to receive frame: %w", err)
	}

	if t.trace {
		t.log.Debug("recv", zap.Any("msg", msg))
	}

	return msg, nil
}

// interruptOnCancel unblocks a pending read when the context is
// cancelled by expiring the read deadline, covering contexts that are
// cancellable but carry no deadline. The returned stop func must run
// before the connection is used again; the next call re-arms the
// deadline over the expired one.
func (t *TCP) interruptOnCancel(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		select {
		case <-ctx.Done():
			t.conn.SetReadDeadline(time.Now()) //nolint:errcheck
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func (t *TCP) Close() error {
	t.log.Info("Closing connection")
	return t.conn.Close()
}

// deadlineFrom maps a context deadline onto the socket. A context
// without a deadline clears any previously armed one, so an earlier
// bounded call cannot poison a later unbounded one.
func deadlineFrom(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}

	return time.Time{}
}
