package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const eventTypeStateChanged = "GameStateChanged"

// RemoteApplier accepts states committed by other processes.
type RemoteApplier interface {
	ApplyRemote(state *models.GameState) bool
}

type NATSConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	InstanceID      string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep snapshots
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection
	AckWait         time.Duration
	PublishRetries  int
	RetryDelay      time.Duration
	OutboxSize      int
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		StreamName:      "BINGO_STATE",
		SubjectPrefix:   "bingo.state",
		InstanceID:      uuid.New().String()[:8],
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		AckWait:         30 * time.Second,
		PublishRetries:  3,
		RetryDelay:      200 * time.Millisecond,
		OutboxSize:      64,
	}
}

// stateEnvelope wraps a full snapshot on the wire.
type stateEnvelope struct {
	EventID    string            `json:"eventId"`
	EventType  string            `json:"eventType"`
	RoomID     string            `json:"roomId"`
	Version    int64             `json:"version"`
	InstanceID string            `json:"instanceId"`
	Timestamp  time.Time         `json:"timestamp"`
	Payload    *models.GameState `json:"payload"`
}

// NATSBridge replicates committed snapshots between processes through a
// JetStream stream keyed by room. Publish never blocks the writer; a background
// loop sends queued snapshots and the consumer hands foreign snapshots to the applier.
type NATSBridge struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      NATSConfig
	roomID   string
	applier  RemoteApplier
	outbox   chan *models.GameState
}

func NewNATSBridge(cfg NATSConfig, roomID string) (*NATSBridge, error) {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultNATSConfig().OutboxSize
	}

	opts := []nats.Option{
		nats.Name("bingo-" + cfg.InstanceID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &NATSBridge{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		roomID: roomID,
		outbox: make(chan *models.GameState, cfg.OutboxSize),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	if err := b.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return b, nil
}

func (b *NATSBridge) subject() string {
	return fmt.Sprintf("%s.%s", b.cfg.SubjectPrefix, b.roomID)
}

func (b *NATSBridge) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:              b.cfg.StreamName,
		Description:       "Bingo room state snapshots",
		Subjects:          []string{fmt.Sprintf("%s.>", b.cfg.SubjectPrefix)},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            b.cfg.MaxAge,
		MaxMsgsPerSubject: 16,
		Storage:           jetstream.FileStorage,
		Replicas:          b.cfg.Replicas,
		Duplicates:        b.cfg.DuplicateWindow,
	}

	stream, err := b.js.Stream(ctx, b.cfg.StreamName)
	if err != nil {
		if _, err = b.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", b.cfg.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = b.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", b.cfg.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// ensureConsumer creates a consumer owned by this instance that starts from the
// latest snapshot of the room.
func (b *NATSBridge) ensureConsumer(ctx context.Context) error {
	stream, err := b.js.Stream(ctx, b.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	name := "bingo-" + b.cfg.InstanceID
	consumer, err := stream.Consumer(ctx, name)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:              name,
			Description:       "Bingo state replica " + b.cfg.InstanceID,
			FilterSubject:     b.subject(),
			DeliverPolicy:     jetstream.DeliverLastPerSubjectPolicy,
			AckPolicy:         jetstream.AckExplicitPolicy,
			AckWait:           b.cfg.AckWait,
			MaxDeliver:        5,
			InactiveThreshold: 10 * time.Minute,
			ReplayPolicy:      jetstream.ReplayInstantPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", name).Str("stream", b.cfg.StreamName).Msg("created JetStream consumer")
	}
	b.consumer = consumer
	return nil
}

// Publish queues a snapshot for replication. When the queue is full the
// snapshot is dropped; the next one carries the complete state anyway.
func (b *NATSBridge) Publish(state *models.GameState) {
	select {
	case b.outbox <- state:
	default:
		log.Warn().Int64("version", state.Version).Msg("replication queue full, dropping snapshot")
	}
}

// Start runs the publish loop and the consumer until ctx is cancelled. Foreign
// snapshots are handed to applier.
func (b *NATSBridge) Start(ctx context.Context, applier RemoteApplier) error {
	b.applier = applier

	log.Info().
		Str("stream", b.cfg.StreamName).
		Str("subject", b.subject()).
		Str("instance_id", b.cfg.InstanceID).
		Msg("starting state replication")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := b.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("state replication shutting down")
			return nil
		case state := <-b.outbox:
			if err := b.publishWithRetry(ctx, state); err != nil {
				log.Error().Err(err).Int64("version", state.Version).Msg("failed to replicate snapshot")
			}
		case msg := <-messageCh:
			if err := b.processMessage(msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process snapshot")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (b *NATSBridge) publishWithRetry(ctx context.Context, state *models.GameState) error {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.PublishRetries; attempt++ {
		if lastErr = b.publish(ctx, state); lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("snapshot publish failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.RetryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

func (b *NATSBridge) publish(ctx context.Context, state *models.GameState) error {
	msgID := state.ID + ":" + strconv.FormatInt(state.Version, 10)
	data, err := json.Marshal(stateEnvelope{
		EventID:    msgID,
		EventType:  eventTypeStateChanged,
		RoomID:     state.ID,
		Version:    state.Version,
		InstanceID: b.cfg.InstanceID,
		Timestamp:  time.Now().UTC(),
		Payload:    state,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ack, err := b.js.PublishMsg(ctx, &nats.Msg{
		Subject: b.subject(),
		Data:    data,
		Header: nats.Header{
			"Event-Type":  []string{eventTypeStateChanged},
			"Room-ID":     []string{state.ID},
			"Instance-ID": []string{b.cfg.InstanceID},
		},
	},
		jetstream.WithMsgID(msgID),
		jetstream.WithExpectStream(b.cfg.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", b.subject()).
		Int64("version", state.Version).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("replicated snapshot")
	return nil
}

func (b *NATSBridge) processMessage(msg jetstream.Msg) error {
	return b.handleSnapshot(msg.Headers(), msg.Data())
}

// handleSnapshot skips this instance's own snapshots and applies the rest.
func (b *NATSBridge) handleSnapshot(header nats.Header, data []byte) error {
	if header.Get("Instance-ID") == b.cfg.InstanceID {
		return nil
	}

	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal snapshot envelope: %w", err)
	}
	if env.EventType != eventTypeStateChanged || env.Payload == nil {
		log.Warn().Str("event_type", env.EventType).Msg("ignoring unexpected replication message")
		return nil
	}

	applied := b.applier.ApplyRemote(env.Payload)
	log.Debug().
		Int64("version", env.Version).
		Str("from", env.InstanceID).
		Bool("applied", applied).
		Msg("received snapshot")
	return nil
}

// IsConnected reports the NATS connection status.
func (b *NATSBridge) IsConnected() bool {
	return b.nc.IsConnected()
}

func (b *NATSBridge) Close() error {
	if b.nc != nil {
		b.nc.Close()
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgsPerSubject == b.MaxMsgsPerSubject &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
