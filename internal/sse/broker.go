package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/fabricviz/fabricviz-server/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JobTopic is the topic job state changes are published on.
func JobTopic(jobID string) string {
	return "job:" + jobID
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

// Broker fans events published on any instance out to the local
// subscribers of a topic through Redis pub/sub.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // topic -> set of clients
	cancels map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		cancels: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, 16),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[topic] == nil {
		b.clients[topic] = make(map[*Client]bool)
		subCtx, cancel := context.WithCancel(b.ctx)
		b.cancels[topic] = cancel
		go b.subscribeToRedis(subCtx, topic)
	}
	b.clients[topic][client] = true
	clientCount := len(b.clients[topic])
	b.mu.Unlock()

	log.Debug().
		Str("topic", topic).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.Topic]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)

	if len(clients) == 0 {
		delete(b.clients, client.Topic)
		if cancel, ok := b.cancels[client.Topic]; ok {
			cancel()
			delete(b.cancels, client.Topic)
		}
	}

	log.Debug().
		Str("topic", client.Topic).
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.redis.Publish(ctx, redisclient.EventChannel(topic), data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, topic string) {
	channel := redisclient.EventChannel(topic)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("topic", topic).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(topic, event)
		}
	}
}

func (b *Broker) broadcast(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[topic] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.cancels = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[topic])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
