package signalservice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/reaction"
	"github.com/gwillem/signal-reactions/internal/scheduler"
	"github.com/gwillem/signal-reactions/internal/signalws"
	"github.com/gwillem/signal-reactions/internal/wire"
)

const (
	messagePath    = "/api/v1/message"
	queueEmptyPath = "/api/v1/queue/empty"
)

// Receiver reads envelopes from the WebSocket, schedules their handling per
// group and acknowledges each one once it is consumed.
//
// An envelope is consumed when handling ends in Success or Discard, or when
// it cannot be decoded. After a hard failure the envelope is left
// unacknowledged so the server redelivers it.
type Receiver struct {
	conn    frameConn
	handler *Handler
	queue   jobQueue
	log     zerolog.Logger
}

// ReceiverConfig holds Receiver dependencies.
type ReceiverConfig struct {
	Conn    frameConn
	Handler *Handler
	Queue   jobQueue
	Logger  zerolog.Logger
}

// NewReceiver creates a Receiver.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	return &Receiver{conn: cfg.Conn, handler: cfg.Handler, queue: cfg.Queue, log: cfg.Logger}
}

type item struct {
	res Result
	err error
}

// Receive yields a Result per handled group envelope, in completion order.
// The iterator stops when ctx is cancelled, the connection is closed, or the
// caller breaks out of the loop. It does not close the connection.
func (r *Receiver) Receive(ctx context.Context) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := make(chan item, 16)
		var pending sync.WaitGroup
		pending.Add(1)
		go func() {
			defer pending.Done()
			r.readLoop(ctx, out, &pending)
		}()
		go func() {
			pending.Wait()
			close(out)
		}()

		for it := range out {
			if !yield(it.res, it.err) {
				cancel()
				break
			}
		}
		for range out {
		}
	}
}

func (r *Receiver) readLoop(ctx context.Context, out chan<- item, pending *sync.WaitGroup) {
	emit := func(it item) {
		select {
		case out <- it:
		case <-ctx.Done():
		}
	}

	for {
		f, err := r.conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, signalws.ErrClosed) {
				return
			}
			emit(item{err: fmt.Errorf("receiver: read: %w", err)})
			return
		}
		if f.Type != wire.FrameRequest || f.Request == nil {
			if f.Response != nil {
				r.log.Debug().Uint64("id", f.Response.ID).Uint32("status", f.Response.Status).Msg("unsolicited response")
			}
			continue
		}

		req := f.Request
		switch {
		case req.Verb == http.MethodPut && req.Path == messagePath:
		case req.Path == queueEmptyPath:
			r.log.Info().Msg("message queue drained")
			r.ack(ctx, req.ID)
			continue
		default:
			r.log.Debug().Str("verb", req.Verb).Str("path", req.Path).Msg("acknowledging unhandled request")
			r.ack(ctx, req.ID)
			continue
		}

		env, key, err := r.handler.Decode(req.Body)
		if err != nil {
			// Undecodable input never becomes valid on redelivery.
			r.ack(ctx, req.ID)
			if errors.Is(err, ErrNotGroupMessage) {
				continue
			}
			r.log.Warn().Err(err).Msg("dropping malformed envelope")
			emit(item{err: fmt.Errorf("receiver: %w", err)})
			continue
		}

		id := req.ID
		var res Result
		pending.Add(1)
		err = r.queue.Submit(ctx, scheduler.Job{
			Key: key,
			Run: func(ctx context.Context) (reaction.Outcome, error) {
				var err error
				res, err = r.handler.Handle(ctx, env, key)
				return res.Outcome, err
			},
			Done: func(_ reaction.Outcome, err error) {
				defer pending.Done()
				if err != nil {
					r.log.Error().Err(err).Str("group", key).Uint64("id", id).Msg("envelope not handled, leaving for redelivery")
					emit(item{res: res, err: fmt.Errorf("receiver: %w", err)})
					return
				}
				r.ack(ctx, id)
				emit(item{res: res})
			},
		})
		if err != nil {
			pending.Done()
			emit(item{err: fmt.Errorf("receiver: submit: %w", err)})
			return
		}
	}
}

func (r *Receiver) ack(ctx context.Context, id uint64) {
	if id == 0 {
		return
	}
	if err := r.conn.SendResponse(ctx, id, 200, "OK"); err != nil {
		r.log.Warn().Err(err).Uint64("id", id).Msg("ack failed")
	}
}

// WebSocketHeaders builds the headers for the authenticated WebSocket.
func WebSocketHeaders(auth BasicAuth) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(
		[]byte(auth.Username+":"+auth.Password)))
	h.Set("X-Signal-Agent", "signal-reactions")
	h.Set("X-Signal-Receive-Stories", "false")
	return h
}
