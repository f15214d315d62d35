package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/wctv/backend/internal/model"
	"github.com/wctv/backend/internal/store"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close stops the write pump. The send channel is never closed: a broadcast
// that raced the removal may still enqueue into the buffer, which is
// harmless, instead of panicking on a closed channel.
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster fans engine events out to connected dashboard clients.
// Delivery is fire-and-forget: there is no acknowledgement, and a client
// that cannot keep up is disconnected rather than back-pressuring the
// engine. Per process, messages are emitted in event order.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool

	store            *store.Store
	snapshotInterval time.Duration
	log              zerolog.Logger
}

func NewBroadcaster(st *store.Store, snapshotInterval time.Duration, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:          make(map[*client]bool),
		store:            st,
		snapshotInterval: snapshotInterval,
		log:              log.With().Str("component", "broadcaster").Logger(),
	}
}

// Run rebroadcasts the stall snapshot at the configured interval until the
// context is cancelled. Clients that join mid-stream get one on connect, so
// the periodic tick only repairs missed deltas.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.snapshotInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendSnapshot(ctx, nil)
		}
	}
}

// AddClient registers a connection and sends it the current stall snapshot.
func (b *Broadcaster) AddClient(ctx context.Context, conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	b.sendSnapshot(ctx, c)
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// sendSnapshot pushes the stall list to one client, or to all when c is nil.
func (b *Broadcaster) sendSnapshot(ctx context.Context, c *client) {
	stalls, err := b.store.ListOverviews(ctx)
	if err != nil {
		b.log.Error().Err(err).Msg("snapshot query failed")
		return
	}
	msg := Message{Type: MsgSnapshot, Payload: SnapshotPayload{Stalls: stalls}}
	if c != nil {
		data, err := json.Marshal(msg)
		if err != nil {
			b.log.Error().Err(err).Msg("snapshot marshal failed")
			return
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, drop the snapshot; the periodic tick retries.
		}
		return
	}
	b.broadcast(msg)
}

func (b *Broadcaster) SessionStarted(stallID, sessionID string) {
	b.broadcast(Message{Type: MsgSessionStarted, Payload: SessionStartedPayload{
		StallID:   stallID,
		SessionID: sessionID,
	}})
}

func (b *Broadcaster) SessionEnded(stallID, sessionID string, result model.Classification) {
	b.broadcast(Message{Type: MsgSessionEnded, Payload: SessionEndedPayload{
		StallID:   stallID,
		SessionID: sessionID,
		Result:    result,
	}})
}

func (b *Broadcaster) StatusUpdate(stallID string, state model.StallState, score float64) {
	b.broadcast(Message{Type: MsgStatusUpdate, Payload: StatusUpdatePayload{
		StallID: stallID,
		State:   state,
		Score:   score,
	}})
}

func (b *Broadcaster) TriggerCreated(t model.CleaningTrigger, stallName string) {
	b.broadcast(Message{Type: MsgTriggerCreated, Payload: TriggerCreatedPayload{
		Trigger: TriggerPayload{
			ID:         t.ID,
			StallID:    t.StallID,
			StallName:  stallName,
			Severity:   t.Severity,
			Status:     t.Status,
			Confidence: t.Confidence,
			CreatedAt:  t.CreatedAt,
		},
	}})
}

func (b *Broadcaster) TriggerUpdated(triggerID string, status model.TriggerStatus) {
	b.broadcast(Message{Type: MsgTriggerUpdated, Payload: TriggerUpdatedPayload{
		TriggerID: triggerID,
		Status:    status,
	}})
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("broadcast marshal failed")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it.
			b.log.Warn().Msg("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}
