package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/omni-platform/cladc/pkg/errkind"
)

// notifyPayloadLimit is slightly under PostgreSQL's 8000-byte NOTIFY cap.
const notifyPayloadLimit = 7900

// listenCmd is a LISTEN/UNLISTEN command executed by the receive loop,
// which is the sole goroutine touching the listen connection. Serializing
// commands through the loop avoids the "conn busy" race between
// WaitForNotification and Exec.
type listenCmd struct {
	sql    string
	result chan error
}

// PGBackend implements Backend over PostgreSQL NOTIFY/LISTEN. It provides
// the durable-queue (AMQP-like) semantics of the platform: per-channel
// ordering from a single server, at-least-once delivery to every listener.
//
// Two connections are held: one for publishing (pg_notify) and one
// dedicated to LISTEN. Reconnection is driven by the Adapter calling
// Connect again; Connect re-establishes both connections and re-issues
// LISTEN for every subscribed primitive.
type PGBackend struct {
	dsn string

	pubMu   sync.Mutex
	pubConn *pgx.Conn

	listenMu   sync.Mutex
	listenConn *pgx.Conn

	subsMu sync.RWMutex
	subs   map[string][]*pgSub
	nextID int64

	cmdCh   chan listenCmd
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

type pgSub struct {
	id      int64
	handler Handler
}

// NewPGBackend creates a disconnected Postgres backend.
func NewPGBackend(dsn string) *PGBackend {
	return &PGBackend{
		dsn:   dsn,
		subs:  make(map[string][]*pgSub),
		cmdCh: make(chan listenCmd, 16),
	}
}

// Connect implements Backend. Safe to call repeatedly; an existing healthy
// session is torn down and rebuilt.
func (b *PGBackend) Connect(ctx context.Context) error {
	b.teardown(ctx)

	pubConn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return fmt.Errorf("connecting publish connection: %w", err)
	}
	listenConn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		_ = pubConn.Close(ctx)
		return fmt.Errorf("connecting LISTEN connection: %w", err)
	}

	// Re-issue LISTEN for everything already subscribed.
	b.subsMu.RLock()
	primitives := make([]string, 0, len(b.subs))
	for p := range b.subs {
		primitives = append(primitives, p)
	}
	b.subsMu.RUnlock()
	for _, p := range primitives {
		if _, err := listenConn.Exec(ctx, "LISTEN "+pgx.Identifier{p}.Sanitize()); err != nil {
			_ = pubConn.Close(ctx)
			_ = listenConn.Close(ctx)
			return fmt.Errorf("re-LISTEN %s: %w", p, err)
		}
	}

	b.pubMu.Lock()
	b.pubConn = pubConn
	b.pubMu.Unlock()
	b.listenMu.Lock()
	b.listenConn = listenConn
	b.listenMu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancelLoop = cancel
	b.loopDone = make(chan struct{})
	b.running.Store(true)
	go func() {
		defer close(b.loopDone)
		b.receiveLoop(loopCtx)
	}()

	return nil
}

// Publish implements Backend via pg_notify. Payloads exceeding the NOTIFY
// size limit fail with a serialization error — they are permanent for the
// offending payload and must not trip the reconnect path.
func (b *PGBackend) Publish(ctx context.Context, primitive string, payload []byte) error {
	if len(payload) > notifyPayloadLimit {
		return errkind.New(errkind.Serialization, "pgbus",
			"payload of %d bytes exceeds NOTIFY limit %d", len(payload), notifyPayloadLimit)
	}

	b.pubMu.Lock()
	conn := b.pubConn
	b.pubMu.Unlock()
	if conn == nil {
		return fmt.Errorf("publish connection not established")
	}

	if _, err := conn.Exec(ctx, "SELECT pg_notify($1, $2)", primitive, string(payload)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// Subscribe implements Backend. The first subscription on a primitive
// issues LISTEN through the receive loop's command channel.
func (b *PGBackend) Subscribe(ctx context.Context, primitive string, h Handler) (CancelFunc, error) {
	b.subsMu.Lock()
	b.nextID++
	sub := &pgSub{id: b.nextID, handler: h}
	first := len(b.subs[primitive]) == 0
	b.subs[primitive] = append(b.subs[primitive], sub)
	b.subsMu.Unlock()

	if first && b.running.Load() {
		if err := b.execListen(ctx, "LISTEN "+pgx.Identifier{primitive}.Sanitize()); err != nil {
			b.removeSub(primitive, sub.id)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			last := b.removeSub(primitive, sub.id)
			if last && b.running.Load() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.execListen(ctx, "UNLISTEN "+pgx.Identifier{primitive}.Sanitize()); err != nil {
					slog.Warn("UNLISTEN failed", "primitive", primitive, "error", err)
				}
			}
		})
	}, nil
}

// Close implements Backend.
func (b *PGBackend) Close(ctx context.Context) error {
	b.teardown(ctx)
	return nil
}

// removeSub drops a subscription; reports whether it was the last one on
// the primitive.
func (b *PGBackend) removeSub(primitive string, id int64) bool {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	list := b.subs[primitive]
	for i, s := range list {
		if s.id == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, primitive)
		return true
	}
	b.subs[primitive] = list
	return false
}

// execListen routes a LISTEN/UNLISTEN statement through the receive loop.
func (b *PGBackend) execListen(ctx context.Context, sql string) error {
	cmd := listenCmd{sql: sql, result: make(chan error, 1)}
	select {
	case b.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("%s failed: %w", sql, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop is the sole user of the LISTEN connection. It alternates
// between draining pending LISTEN/UNLISTEN commands and waiting briefly
// for notifications. On connection failure it exits; the Adapter's
// backoff-gated Connect rebuilds the session.
func (b *PGBackend) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.drainCmds(ctx)

		b.listenMu.Lock()
		conn := b.listenConn
		b.listenMu.Unlock()
		if conn == nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // Poll timeout — loop back for pending commands.
			}
			slog.Error("NOTIFY receive error, listener exiting until reconnect", "error", err)
			b.running.Store(false)
			return
		}

		b.dispatch(ctx, notification.Channel, []byte(notification.Payload))
	}
}

func (b *PGBackend) drainCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-b.cmdCh:
			b.listenMu.Lock()
			conn := b.listenConn
			b.listenMu.Unlock()
			if conn == nil {
				cmd.result <- fmt.Errorf("LISTEN connection not established")
				continue
			}
			_, err := conn.Exec(ctx, cmd.sql)
			cmd.result <- err
		default:
			return
		}
	}
}

func (b *PGBackend) dispatch(ctx context.Context, primitive string, payload []byte) {
	b.subsMu.RLock()
	subs := make([]*pgSub, len(b.subs[primitive]))
	copy(subs, b.subs[primitive])
	b.subsMu.RUnlock()

	for _, sub := range subs {
		sub.handler(ctx, payload)
	}
}

func (b *PGBackend) teardown(ctx context.Context) {
	b.running.Store(false)
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	if b.loopDone != nil {
		<-b.loopDone
		b.loopDone = nil
	}

	b.pubMu.Lock()
	if b.pubConn != nil {
		_ = b.pubConn.Close(ctx)
		b.pubConn = nil
	}
	b.pubMu.Unlock()

	b.listenMu.Lock()
	if b.listenConn != nil {
		_ = b.listenConn.Close(ctx)
		b.listenConn = nil
	}
	b.listenMu.Unlock()
}
