package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ProgressChange identifies the progress views made stale by a committed write. A zero
// StudentID means every student of the course is affected.
type ProgressChange struct {
	StudentID uint   `json:"student_id,omitempty"`
	CourseID  uint   `json:"course_id"`
	Reason    string `json:"reason"`
}

// Invalidator receives progress change signals after a transaction commits.
type Invalidator interface {
	Invalidate(ctx context.Context, change ProgressChange)
}

// InvalidationListener reacts to a progress change, local or relayed from another node.
type InvalidationListener func(ctx context.Context, change ProgressChange)

// InvalidationBus fans progress changes out to in-process listeners and to peer instances
// through Redis pub/sub and NATS.
type InvalidationBus struct {
	redis       *redis.Client
	redisTopic  string
	nats        *nats.Conn
	natsSubject string
	nodeID      string
	logger      zerolog.Logger

	mu        sync.RWMutex
	listeners []InvalidationListener
}

type invalidationEvent struct {
	Source string         `json:"source"`
	Change ProgressChange `json:"change"`
	SentAt time.Time      `json:"sent_at"`
}

// NewInvalidationBus builds the bus. Either transport may be nil.
func NewInvalidationBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *InvalidationBus {
	bus := &InvalidationBus{
		redis:  redisClient,
		nats:   natsConn,
		nodeID: uuid.NewString(),
		logger: logger.With().Str("component", "progress_invalidation").Logger(),
	}
	if channelBase != "" {
		bus.redisTopic = channelBase + ":progress:invalidated"
		bus.natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".progress.invalidated"
	}
	return bus
}

// Subscribe registers a listener for every change seen by this node.
func (b *InvalidationBus) Subscribe(listener InvalidationListener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, listener)
	b.mu.Unlock()
}

// Invalidate notifies local listeners and relays the change to peers.
func (b *InvalidationBus) Invalidate(ctx context.Context, change ProgressChange) {
	b.dispatch(ctx, change)

	payload, err := json.Marshal(invalidationEvent{Source: b.nodeID, Change: change, SentAt: time.Now().UTC()})
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to encode invalidation event")
		return
	}

	if b.redis != nil && b.redisTopic != "" {
		if err := b.redis.Publish(ctx, b.redisTopic, payload).Err(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to publish invalidation to redis")
		}
	}
	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			b.logger.Warn().Err(err).Msg("failed to publish invalidation to nats")
		}
	}
}

// Start consumes changes published by peer instances until ctx is cancelled.
func (b *InvalidationBus) Start(ctx context.Context) {
	if b.redis != nil && b.redisTopic != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		b.consumeNATS(ctx)
	}
}

func (b *InvalidationBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisTopic)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			b.logger.Error().Err(err).Msg("invalidation redis subscription closed")
			return
		}
		b.handleEvent(ctx, []byte(msg.Payload))
	}
}

func (b *InvalidationBus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.handleEvent(ctx, msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to invalidation subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain invalidation subscription")
		}
	}()
}

func (b *InvalidationBus) handleEvent(ctx context.Context, data []byte) {
	var event invalidationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		b.logger.Warn().Err(err).Msg("invalid invalidation event")
		return
	}
	if event.Source == b.nodeID {
		return
	}
	b.dispatch(ctx, event.Change)
}

func (b *InvalidationBus) dispatch(ctx context.Context, change ProgressChange) {
	b.mu.RLock()
	listeners := append([]InvalidationListener(nil), b.listeners...)
	b.mu.RUnlock()

	for _, listener := range listeners {
		listener(ctx, change)
	}
}
