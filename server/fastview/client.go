package fastview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

// Rates bound the traffic of a client.
type Rates struct {
	// Publish is the minimum interval between published updates; faster updates are dropped.
	Publish time.Duration
	// Ping is the ping period. PongWait is how long without a pong before the peer
	// is considered gone, and so should span several pings.
	Ping     time.Duration
	PongWait time.Duration
	// Write bounds every individual write.
	Write time.Duration
}

var DefaultRates = Rates{
	Publish:  time.Millisecond * 100,
	Ping:     time.Millisecond * 200,
	PongWait: time.Millisecond * 800,
	Write:    time.Second,
}

var upgrader = websocket.Upgrader{}

// Client publishes updates unidirectionally to one web client via websocket. Items
// in the updates chan must be idempotent: intervening updates are discarded when
// received faster than the publish rate, so the latest update alone must specify
// the client's state.
type Client[T any] struct {
	updates <-chan T
	ws      *websock
	rootCtx context.Context
	rates   Rates
}

// NewClient upgrades the request to a websocket. On failure the error has already
// been written to w.
func NewClient[T any](
	updates <-chan T,
	w http.ResponseWriter,
	r *http.Request,
	rates Rates,
) (*Client[T], error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return &Client[T]{
		updates: updates,
		ws:      newWebSocket(ws, rates.Write),
		rootCtx: r.Context(),
		rates:   rates,
	}, nil
}

// Sync publishes incoming updates until the client disconnects, the updates chan
// closes, or the request context ends. It returns nil on an orderly end and
// otherwise the first error of its reader, pinger or publisher. The socket is
// closed on return.
func (cli *Client[T]) Sync() error {
	defer cli.ws.Close()
	group, groupCtx := errgroup.WithContext(cli.rootCtx)

	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		// The publisher ending, e.g. when updates close, must stop the others.
		if err := cli.publish(groupCtx); err != nil {
			return err
		}
		return errPublisherDone
	})

	if err := group.Wait(); !errors.Is(err, errPublisherDone) && !isClosure(err) {
		return err
	}
	return nil
}

var (
	ErrPongDeadlineExceeded error = errors.New("client disconnect, pong deadline exceeded")
	errPublisherDone              = errors.New("publisher done")
)

// Runs the ping-pong for the client liveness check.
// NOTE: This function requires that readMessages is running to ensure the pong handler is called.
func (cli *Client[T]) pingPong(ctx context.Context) error {
	pong := make(chan struct{}, 1)
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), cli.rates.Ping)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > cli.rates.PongWait {
				return ErrPongDeadlineExceeded
			}

			if err := cli.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (cli *Client[T]) ping(ctx context.Context) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (err error) {
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cli.rates.Write)); err != nil {
				if isError(err) {
					err = fmt.Errorf("ping failed: %T %w", err, err)
				}
			}
			return
		})
}

// readMessages monitors for messages from the client.
// Errors returned by websocket Read methods are permanent, hence any error
// must trigger full teardown.
func (cli *Client[T]) readMessages(ctx context.Context) error {
	// Unblocks the pending read once the group is done.
	stop := context.AfterFunc(ctx, func() {
		_ = cli.ws.Conn().SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		// Reads are not bounded by the congestion timeout: ReadMessage blocks until a
		// frame or a close, and the socket has a single reader.
		if _, _, err := cli.ws.Conn().ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (cli *Client[T]) publish(ctx context.Context) error {
	var lastSync time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case updates, ok := <-cli.updates:
			// Graceful input channel closure
			if !ok {
				return nil
			}
			// Drop updates when receiving too quickly.
			if time.Since(lastSync) < cli.rates.Publish {
				break
			}

			lastSync = time.Now()
			err := cli.ws.Write(
				ctx,
				func(ws *websocket.Conn) (writeErr error) {
					if writeErr = ws.SetWriteDeadline(time.Now().Add(cli.rates.Write)); writeErr != nil {
						return fmt.Errorf("failed to set deadline: %T %w", writeErr, writeErr)
					}
					if writeErr = ws.WriteJSON(updates); writeErr != nil && isError(writeErr) {
						writeErr = fmt.Errorf("publish failed: %T %w", writeErr, writeErr)
					}
					return
				})
			if err != nil {
				return err
			}
		}
	}
}

func isError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

// websock serializes writes to the websocket, whose requirement is that there be
// only one concurrent writer at a time.
type websock struct {
	// A mutex, but channel semantics allow waiting with a timeout.
	writeSem  chan struct{}
	ws        *websocket.Conn
	writeWait time.Duration
}

func newWebSocket(ws *websocket.Conn, writeWait time.Duration) *websock {
	return &websock{
		writeSem:  make(chan struct{}, 1),
		ws:        ws,
		writeWait: writeWait,
	}
}

// Returns the underlying websocket.
// This should only be used non-concurrently for setup, e.g. adding handlers, or by
// the single reader.
func (sock *websock) Conn() *websocket.Conn {
	return sock.ws
}

// Close sends a close frame and closes the socket. It should only be called once
// no further writers exist.
func (sock *websock) Close() {
	sock.writeSem <- struct{}{}
	_ = sock.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(sock.writeWait))
	sock.ws.Close()
}

// Write serializes write operations to the websocket.
func (sock *websock) Write(
	ctx context.Context,
	writeFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		return writeFn(sock.ws)
	case <-time.After(sock.writeWait):
		return ErrSockCongestion
	}
}
