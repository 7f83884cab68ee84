package hub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/infra/setup"
)

const (
	relayKindBroadcast = ""
	// relayKindEvict 通知其他实例把某用户的连接移出房间
	relayKindEvict = "evict"

	defaultRelayRetryBase = 500 * time.Millisecond
	defaultRelayRetryMax  = 30 * time.Second
)

// relayEnvelope 跨实例广播的消息格式，origin 用于过滤本实例自己发布的消息
type relayEnvelope struct {
	Origin  string              `json:"origin"`
	RoomID  uint                `json:"roomId"`
	Kind    string              `json:"kind,omitempty"`
	UserID  uint                `json:"userId,omitempty"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// relayTarget 接收其他实例发来的房间消息
type relayTarget interface {
	broadcastLocal(roomID uint, message []byte, except *Client)
	evictLocal(roomID, userID uint) int
}

// relay 基于 Redis Pub/Sub 的跨实例房间广播
type relay struct {
	client     *redis.Client
	keyPrefix  string
	instanceID string
	log        *logrus.Entry

	retryBase time.Duration
	retryMax  time.Duration

	mu             sync.Mutex
	pubsub         *redis.PubSub
	stopped        bool
	done           chan struct{}
	subscribed     chan struct{}
	subscribedOnce sync.Once
}

func newRelay(client *redis.Client, keyPrefix, instanceID string, log *logrus.Entry) *relay {
	return &relay{
		client:     client,
		keyPrefix:  keyPrefix,
		instanceID: instanceID,
		log:        log.WithField("subcomponent", "relay"),
		retryBase:  defaultRelayRetryBase,
		retryMax:   defaultRelayRetryMax,
		done:       make(chan struct{}),
		subscribed: make(chan struct{}),
	}
}

func (r *relay) channel(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:events", r.keyPrefix, roomID)
}

func (r *relay) pattern() string {
	return r.keyPrefix + "room:*:events"
}

// roomIDFromChannel 从频道名解析房间 ID
func (r *relay) roomIDFromChannel(channel string) (uint, bool) {
	rest := strings.TrimPrefix(channel, r.keyPrefix+"room:")
	rest = strings.TrimSuffix(rest, ":events")
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (r *relay) publish(ctx context.Context, roomID uint, payload []byte) {
	r.send(ctx, relayEnvelope{Origin: r.instanceID, RoomID: roomID, Payload: payload})
}

func (r *relay) publishEviction(ctx context.Context, roomID, userID uint) {
	r.send(ctx, relayEnvelope{Origin: r.instanceID, RoomID: roomID, Kind: relayKindEvict, UserID: userID})
}

func (r *relay) send(ctx context.Context, env relayEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		r.log.WithError(err).Error("Failed to encode relay envelope")
		return
	}
	if err := r.client.Publish(ctx, r.channel(env.RoomID), data).Err(); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"room_id": env.RoomID, "kind": env.Kind}).Warn("Failed to publish room event to other instances")
	}
}

// run 订阅房间频道并分发消息。订阅失败时按指数退避重试，直到 ctx 取消或 stop 被调用。
func (r *relay) run(ctx context.Context, target relayTarget) {
	for attempt := 0; ; attempt++ {
		pubsub, err := r.subscribe(ctx)
		if err == nil {
			attempt = -1
			r.consume(ctx, pubsub, target)
		} else {
			r.log.WithError(err).WithField("attempt", attempt+1).Warn("Failed to subscribe to room events, cross-instance relay inactive")
		}
		if r.isStopped() || ctx.Err() != nil {
			r.stop()
			return
		}
		if err == nil {
			continue
		}

		delay := setup.RetryBackoff(attempt, r.retryBase, r.retryMax)
		select {
		case <-ctx.Done():
			r.stop()
			return
		case <-r.done:
			return
		case <-time.After(delay):
		}
	}
}

func (r *relay) subscribe(ctx context.Context) (*redis.PubSub, error) {
	pubsub := r.client.PSubscribe(ctx, r.pattern())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		_ = pubsub.Close()
		return nil, redis.ErrClosed
	}
	r.pubsub = pubsub
	r.mu.Unlock()

	r.subscribedOnce.Do(func() { close(r.subscribed) })
	r.log.WithField("pattern", r.pattern()).Info("Subscribed to room events")
	return pubsub, nil
}

// consume 分发订阅消息，订阅关闭或 ctx 取消时返回
func (r *relay) consume(ctx context.Context, pubsub *redis.PubSub, target relayTarget) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.log.Info("Room event subscription closed")
				return
			}
			r.dispatch(msg, target)
		}
	}
}

func (r *relay) dispatch(msg *redis.Message, target relayTarget) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.log.WithError(err).Warn("Dropping undecodable relay message")
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	roomID, ok := r.roomIDFromChannel(msg.Channel)
	if !ok || roomID != env.RoomID {
		r.log.WithField("channel", msg.Channel).Warn("Dropping relay message with mismatched room")
		return
	}
	switch env.Kind {
	case relayKindBroadcast:
		target.broadcastLocal(roomID, env.Payload, nil)
	case relayKindEvict:
		target.evictLocal(roomID, env.UserID)
	default:
		r.log.WithField("kind", env.Kind).Warn("Dropping relay message of unknown kind")
	}
}

func (r *relay) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *relay) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		close(r.done)
	}
	if r.pubsub == nil {
		return
	}
	if err := r.pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		r.log.WithError(err).Warn("Error closing room event subscription")
	}
	r.pubsub = nil
}
