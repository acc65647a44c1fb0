package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/florianbrrl/pixelboard/internal/placement"
)

const (
	channelPrefix   = "pixelboard:events:"
	relayBufferSize = 256
)

// Bridge relays committed placements between instances through Redis
// pub/sub. Locally committed events are delivered to the local hub and
// published to the board's channel; events published by other instances
// are fed into the local hub so every instance shares one realtime
// stream. The bridge only relays: projections and cooldown state stay
// derived from the shared event log.
type Bridge struct {
	client     *redis.Client
	local      placement.EventPublisher
	instanceID string
	logger     *zap.Logger
	relay      chan placement.PlacementEvent
}

// Config describes bridge construction options.
type Config struct {
	Client     *redis.Client
	Local      placement.EventPublisher
	InstanceID string
	Logger     *zap.Logger
}

type envelope struct {
	InstanceID string                   `json:"instance_id"`
	BoardID    string                   `json:"board_id"`
	Event      placement.PlacementEvent `json:"event"`
}

// New constructs a bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Client == nil {
		return nil, errors.New("redisbridge: redis client is required")
	}
	if cfg.Local == nil {
		return nil, errors.New("redisbridge: local publisher is required")
	}
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bridge := &Bridge{
		client:     cfg.Client,
		local:      cfg.Local,
		instanceID: instanceID,
		logger:     logger,
		relay:      make(chan placement.PlacementEvent, relayBufferSize),
	}
	go bridge.relayLoop()
	return bridge, nil
}

// Publish delivers the event locally and queues it for relay to the
// board channel. Implements placement.EventPublisher; the Redis round
// trip happens on the relay goroutine so the placing caller never waits
// on it, and relay failures are logged and swallowed since the
// placement itself already committed.
func (b *Bridge) Publish(event placement.PlacementEvent) {
	b.local.Publish(event)

	select {
	case b.relay <- event:
	default:
		b.logger.Warn("relay queue full, dropping event",
			zap.String("board_id", event.BoardID), zap.Int64("seq", event.Seq))
	}
}

func (b *Bridge) relayLoop() {
	for event := range b.relay {
		payload, err := json.Marshal(envelope{
			InstanceID: b.instanceID,
			BoardID:    event.BoardID,
			Event:      event,
		})
		if err != nil {
			b.logger.Error("event envelope marshal failed", zap.Error(err))
			continue
		}
		if err := b.client.Publish(context.Background(), channelPrefix+event.BoardID, payload).Err(); err != nil {
			b.logger.Warn("redis relay publish failed",
				zap.String("board_id", event.BoardID), zap.Error(err))
		}
	}
}

// Run subscribes to every board channel and feeds remote events into the
// local hub until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redisbridge: subscribe failed: %w", err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			b.handleMessage(message.Payload)
		}
	}
}

func (b *Bridge) handleMessage(payload string) {
	var received envelope
	if err := json.Unmarshal([]byte(payload), &received); err != nil {
		b.logger.Warn("discarding malformed relay payload", zap.Error(err))
		return
	}
	if received.InstanceID == b.instanceID {
		return
	}
	b.local.Publish(received.Event)
}
