package signalws

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/wire"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("signalws: connection closed")

	errNoConn = errors.New("signalws: no active connection")
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultKeepAliveTimeout  = 20 * time.Second
	defaultReconnectTimeout  = 2 * time.Minute

	keepAlivePath = "/v1/keepalive"
)

// PersistentConn keeps a Conn alive with heartbeats and redials it with
// exponential backoff when it breaks.
type PersistentConn struct {
	url     string
	tlsConf *tls.Config
	headers http.Header
	log     zerolog.Logger

	mu     sync.Mutex
	conn   *Conn
	closed atomic.Bool
	life   context.Context
	cancel context.CancelFunc

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration
	reconnectTimeout  time.Duration
	onKeepAlive       func(rtt time.Duration)

	nextKeepAliveID atomic.Uint64
	pendingID       atomic.Uint64 // 0 when no keep-alive is outstanding
	sentAt          atomic.Int64  // UnixNano of the outstanding keep-alive
	acked           chan struct{}
}

// Option configures a PersistentConn.
type Option func(*PersistentConn)

// WithKeepAliveInterval sets the interval between keep-alive requests.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(pc *PersistentConn) { pc.keepAliveInterval = d }
}

// WithKeepAliveTimeout sets how long to wait for a keep-alive response
// before the connection is considered dead.
func WithKeepAliveTimeout(d time.Duration) Option {
	return func(pc *PersistentConn) { pc.keepAliveTimeout = d }
}

// WithReconnectTimeout bounds the total time spent redialing.
func WithReconnectTimeout(d time.Duration) Option {
	return func(pc *PersistentConn) { pc.reconnectTimeout = d }
}

// WithKeepAliveCallback is called with the round-trip time of each
// answered keep-alive.
func WithKeepAliveCallback(fn func(rtt time.Duration)) Option {
	return func(pc *PersistentConn) { pc.onKeepAlive = fn }
}

// WithHeaders sets HTTP headers for the upgrade request.
func WithHeaders(h http.Header) Option {
	return func(pc *PersistentConn) { pc.headers = h }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(pc *PersistentConn) { pc.log = l }
}

// DialPersistent dials url and starts the keep-alive loop.
func DialPersistent(ctx context.Context, url string, tlsConf *tls.Config, opts ...Option) (*PersistentConn, error) {
	pc := &PersistentConn{
		url:               url,
		tlsConf:           tlsConf,
		log:               zerolog.Nop(),
		keepAliveInterval: defaultKeepAliveInterval,
		keepAliveTimeout:  defaultKeepAliveTimeout,
		reconnectTimeout:  defaultReconnectTimeout,
		acked:             make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(pc)
	}

	conn, err := Dial(ctx, url, tlsConf, pc.headers)
	if err != nil {
		return nil, err
	}
	pc.conn = conn
	pc.life, pc.cancel = context.WithCancel(context.Background())
	go pc.keepAliveLoop()
	return pc, nil
}

func (pc *PersistentConn) current() *Conn {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.conn
}

// ReadFrame returns the next frame that is not a keep-alive response,
// redialing as needed.
func (pc *PersistentConn) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	for {
		if pc.closed.Load() {
			return nil, ErrClosed
		}
		conn := pc.current()
		if conn == nil {
			if err := pc.reconnect(ctx, nil); err != nil {
				return nil, err
			}
			continue
		}

		f, err := conn.ReadFrame(ctx)
		if err != nil {
			if pc.closed.Load() {
				return nil, ErrClosed
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			pc.log.Debug().Err(err).Msg("websocket read failed, reconnecting")
			if err := pc.reconnect(ctx, conn); err != nil {
				return nil, err
			}
			continue
		}

		if f.Type == wire.FrameResponse && f.Response != nil {
			if id := pc.pendingID.Load(); id != 0 && f.Response.ID == id {
				pc.keepAliveAnswered()
				continue
			}
		}
		return f, nil
	}
}

// WriteFrame writes f to the current connection.
func (pc *PersistentConn) WriteFrame(ctx context.Context, f *wire.Frame) error {
	conn := pc.current()
	if conn == nil {
		return errNoConn
	}
	return conn.WriteFrame(ctx, f)
}

// SendResponse answers a server request on the current connection.
func (pc *PersistentConn) SendResponse(ctx context.Context, id uint64, status uint32, message string) error {
	return pc.WriteFrame(ctx, wire.NewResponse(id, status, message))
}

// Close stops the keep-alive loop and closes the connection. No further
// reconnects happen.
func (pc *PersistentConn) Close() error {
	if pc.closed.Swap(true) {
		return nil
	}
	pc.cancel()
	pc.mu.Lock()
	conn := pc.conn
	pc.conn = nil
	pc.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (pc *PersistentConn) keepAliveLoop() {
	ticker := time.NewTicker(pc.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pc.life.Done():
			return
		case <-ticker.C:
		}

		conn := pc.current()
		if conn == nil {
			continue
		}
		if err := pc.sendKeepAlive(conn); err != nil {
			pc.log.Debug().Err(err).Msg("keep-alive write failed")
			continue
		}

		timer := time.NewTimer(pc.keepAliveTimeout)
		select {
		case <-pc.life.Done():
			timer.Stop()
			return
		case <-pc.acked:
			timer.Stop()
		case <-timer.C:
			pc.log.Info().Dur("timeout", pc.keepAliveTimeout).Msg("keep-alive unanswered, reconnecting")
			if err := pc.reconnect(pc.life, conn); err != nil && !errors.Is(err, ErrClosed) {
				pc.log.Warn().Err(err).Msg("reconnect failed")
			}
		}
	}
}

func (pc *PersistentConn) sendKeepAlive(conn *Conn) error {
	select {
	case <-pc.acked: // stale
	default:
	}
	id := pc.nextKeepAliveID.Add(1)
	pc.pendingID.Store(id)
	pc.sentAt.Store(time.Now().UnixNano())
	return conn.WriteFrame(pc.life, &wire.Frame{
		Type:    wire.FrameRequest,
		Request: &wire.Request{Verb: http.MethodGet, Path: keepAlivePath, ID: id},
	})
}

func (pc *PersistentConn) keepAliveAnswered() {
	if pc.onKeepAlive != nil {
		if sent := pc.sentAt.Load(); sent > 0 {
			pc.onKeepAlive(time.Since(time.Unix(0, sent)))
		}
	}
	pc.pendingID.Store(0)
	select {
	case pc.acked <- struct{}{}:
	default:
	}
}

// reconnect replaces failed with a fresh connection. If another goroutine
// already replaced it, reconnect returns immediately.
func (pc *PersistentConn) reconnect(ctx context.Context, failed *Conn) error {
	pc.mu.Lock()
	if pc.conn != failed {
		pc.mu.Unlock()
		return nil
	}
	pc.conn = nil
	pc.mu.Unlock()
	if failed != nil {
		failed.CloseNow()
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(pc.life, stop)
	defer unregister()

	conn, err := backoff.Retry(ctx, func() (*Conn, error) {
		if pc.closed.Load() {
			return nil, backoff.Permanent(ErrClosed)
		}
		return Dial(ctx, pc.url, pc.tlsConf, pc.headers)
	},
		backoff.WithMaxElapsedTime(pc.reconnectTimeout),
		backoff.WithNotify(func(err error, d time.Duration) {
			pc.log.Debug().Err(err).Dur("retry_in", d).Msg("redial failed")
		}),
	)
	if err != nil {
		if pc.closed.Load() {
			return ErrClosed
		}
		return err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed.Load() || pc.conn != nil {
		conn.CloseNow()
		if pc.closed.Load() {
			return ErrClosed
		}
		return nil
	}
	pc.conn = conn
	pc.log.Debug().Msg("websocket reconnected")
	return nil
}
