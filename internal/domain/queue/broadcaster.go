package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

const publishTimeout = 2 * time.Second

// Hub is the part of websocket.Hub the broadcaster pushes through.
type Hub interface {
	Broadcast(resource string, data []byte) int
	SendTo(c *websocket.Client, data []byte) bool
	ResourceCount(resource string) int
}

// Bus carries change notifications between server instances.
// pubsub.RedisBus satisfies it.
type Bus interface {
	Publish(ctx context.Context, resource string) error
	Subscribe(ctx context.Context, handle func(resource string)) error
}

// Days maps an instant to the clinic day. sequence.Allocator satisfies it.
type Days interface {
	Day(t time.Time) time.Time
}

// Broadcaster recomputes a doctor's queue after a committed change and
// pushes the snapshot to live viewers. Notify never blocks the caller:
// requests are coalesced per doctor and drained by Run.
type Broadcaster struct {
	repo   Repository
	days   Days
	hub    Hub
	bus    Bus
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[uuid.UUID]bool // value: still needs publishing on the bus
	wake    chan struct{}
}

// NewBroadcaster builds a broadcaster. bus may be nil for a single instance.
func NewBroadcaster(repo Repository, days Days, hub Hub, bus Bus, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		repo:    repo,
		days:    days,
		hub:     hub,
		bus:     bus,
		logger:  logger.With().Str("component", "queue_broadcaster").Logger(),
		now:     time.Now,
		pending: make(map[uuid.UUID]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Notify marks doctorID's queue as changed.
func (b *Broadcaster) Notify(doctorID uuid.UUID) {
	b.mark(doctorID, b.bus != nil)
}

func (b *Broadcaster) mark(doctorID uuid.UUID, publish bool) {
	b.mu.Lock()
	b.pending[doctorID] = b.pending[doctorID] || publish
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Broadcaster) drain() map[uuid.UUID]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make(map[uuid.UUID]bool)
	return batch
}

// Run delivers pending notifications until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.wake:
			b.flush(ctx)
		}
	}
}

func (b *Broadcaster) flush(ctx context.Context) {
	for doctorID, publish := range b.drain() {
		if publish {
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := b.bus.Publish(pubCtx, Resource(doctorID))
			cancel()
			if err == nil {
				// Our own subscriber delivers it locally.
				continue
			}
			b.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("publish failed, delivering locally")
		}
		b.deliver(ctx, doctorID)
	}
}

// Subscribe relays notifications from other instances (and this one) to
// local viewers until ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) error {
	if b.bus == nil {
		return nil
	}
	return b.bus.Subscribe(ctx, func(resource string) {
		doctorID, ok := DoctorFromResource(resource)
		if !ok {
			b.logger.Warn().Str("resource", resource).Msg("ignoring notification for unknown resource")
			return
		}
		b.mark(doctorID, false)
	})
}

func (b *Broadcaster) deliver(ctx context.Context, doctorID uuid.UUID) {
	resource := Resource(doctorID)
	if b.hub.ResourceCount(resource) == 0 {
		return
	}
	data, err := b.snapshotJSON(ctx, doctorID)
	if err != nil {
		b.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("queue snapshot failed")
		return
	}
	n := b.hub.Broadcast(resource, data)
	b.logger.Debug().Str("doctor_id", doctorID.String()).Int("viewers", n).Msg("queue pushed")
}

// Snapshot computes the doctor's current queue for today.
func (b *Broadcaster) Snapshot(ctx context.Context, doctorID uuid.UUID) (*Snapshot, error) {
	now := b.now()
	day := b.days.Day(now)
	entries, err := b.repo.Active(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(doctorID, day, entries, now), nil
}

func (b *Broadcaster) snapshotJSON(ctx context.Context, doctorID uuid.UUID) ([]byte, error) {
	snap, err := b.Snapshot(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

// Hooks answers viewer traffic: a fresh snapshot on connect and on
// {"action":"refresh"}. Pings only refresh activity, which the hub does.
func (b *Broadcaster) Hooks() websocket.Hooks {
	send := func(c *websocket.Client) {
		doctorID, ok := DoctorFromResource(c.Resource)
		if !ok {
			return
		}
		data, err := b.snapshotJSON(context.Background(), doctorID)
		if err != nil {
			b.logger.Warn().Err(err).Str("client_id", c.ID).Msg("queue snapshot failed")
			return
		}
		b.hub.SendTo(c, data)
	}
	return websocket.Hooks{
		OnConnect: send,
		OnMessage: func(c *websocket.Client, msg websocket.ClientMessage) {
			switch msg.Action {
			case "refresh":
				send(c)
			case "ping":
			default:
				b.logger.Warn().Str("client_id", c.ID).Str("action", msg.Action).Msg("ignoring unknown action")
			}
		},
	}
}
