package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"doc-sync/pkg/metrics"
)

// envelope is what travels on the bus between instances.
type envelope struct {
	Origin     string          `json:"origin"`
	DocumentID string          `json:"document_id"`
	Version    int             `json:"version"`
	Payload    json.RawMessage `json:"payload"`
}

type outgoing struct {
	channel string
	body    []byte
}

// RedisRelay fans room broadcasts out to every instance subscribed to the
// same Redis deployment. Publications are queued and sent in order by a
// single goroutine so callers never wait on the network.
type RedisRelay struct {
	client  *redis.Client
	prefix  string
	origin  string
	manager *RoomManager
	logger  *zap.SugaredLogger

	outbox   chan outgoing
	onRemote func(documentID string, version int)
	pubsub   *redis.PubSub
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewRedisRelay creates a relay delivering remote broadcasts into manager
func NewRedisRelay(client *redis.Client, prefix string, manager *RoomManager, logger *zap.SugaredLogger) *RedisRelay {
	if prefix == "" {
		prefix = "docsync"
	}
	return &RedisRelay{
		client:  client,
		prefix:  prefix,
		origin:  uuid.NewString(),
		manager: manager,
		logger:  logger,
		outbox:  make(chan outgoing, 1024),
	}
}

func (r *RedisRelay) channel(documentID string) string {
	return fmt.Sprintf("%s:document:%s", r.prefix, documentID)
}

// OnRemote installs a hook called for every version committed on another
// instance, before it is delivered locally. Set it before Start.
func (r *RedisRelay) OnRemote(hook func(documentID string, version int)) {
	r.onRemote = hook
}

// Start subscribes to all document channels and begins publishing.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+":document:*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to room relay: %w", err)
	}
	r.pubsub = pubsub

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(2)
	go r.receive(pubsub.Channel())
	go r.publish(ctx)

	r.logger.Infow("Room relay started", "prefix", r.prefix, "origin", r.origin)
	return nil
}

// Publish queues msg for other instances. It never blocks; when the outbox is
// full the message is dropped and an error returned.
func (r *RedisRelay) Publish(_ context.Context, documentID string, version int, msg []byte) error {
	body, err := json.Marshal(envelope{Origin: r.origin, DocumentID: documentID, Version: version, Payload: msg})
	if err != nil {
		return err
	}
	select {
	case r.outbox <- outgoing{channel: r.channel(documentID), body: body}:
		return nil
	default:
		return errors.New("relay outbox full")
	}
}

func (r *RedisRelay) publish(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-r.outbox:
			if err := r.client.Publish(ctx, out.channel, out.body).Err(); err != nil {
				r.logger.Warnw("Failed to publish to room relay", "channel", out.channel, "error", err)
				continue
			}
			metrics.RelayMessages.WithLabelValues("out").Inc()
		}
	}
}

func (r *RedisRelay) receive(messages <-chan *redis.Message) {
	defer r.wg.Done()
	for msg := range messages {
		r.handle(msg)
	}
}

func (r *RedisRelay) handle(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Warnw("Ignoring malformed relay message", "channel", msg.Channel, "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.DocumentID == "" {
		env.DocumentID = strings.TrimPrefix(msg.Channel, r.prefix+":document:")
	}

	metrics.RelayMessages.WithLabelValues("in").Inc()
	if r.onRemote != nil {
		r.onRemote(env.DocumentID, env.Version)
	}
	r.manager.DeliverLocal(env.DocumentID, env.Version, env.Payload)
}

// Close stops the relay and releases the subscription.
func (r *RedisRelay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var err error
	if r.pubsub != nil {
		err = r.pubsub.Close()
	}
	r.wg.Wait()
	return err
}
