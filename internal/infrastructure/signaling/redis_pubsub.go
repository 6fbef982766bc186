package signaling

import (
	"context"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/circuitbreaker"
	"huddle/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPubSubConfig tunes liveness probing and subscription recovery.
type RedisPubSubConfig struct {
	PingInterval   time.Duration
	ResubscribeMax int
	ResubscribeMin time.Duration
}

// RedisPubSub implements ports.PubSub on Redis pub/sub. A ping loop tracks
// broker liveness; each subscription owns its receive loop and re-enters it
// with backoff when the connection drops, so subscribers never see a closed
// channel because of a network blip.
type RedisPubSub struct {
	cfg     RedisPubSubConfig
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	status    domain.ConnStatus
	listeners map[int]func(domain.ConnStatus)
	nextID    int

	closeOnce sync.Once
	closed    chan struct{}
}

func NewRedisPubSub(cfg RedisPubSubConfig, client *redis.Client, logger *zap.SugaredLogger) *RedisPubSub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.ResubscribeMax <= 0 {
		cfg.ResubscribeMax = 10
	}
	if cfg.ResubscribeMin <= 0 {
		cfg.ResubscribeMin = 500 * time.Millisecond
	}
	p := &RedisPubSub{
		cfg:       cfg,
		client:    client,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:    logger,
		status:    domain.ConnConnecting,
		listeners: make(map[int]func(domain.ConnStatus)),
		closed:    make(chan struct{}),
	}
	p.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("publish circuit state changed", "from", from.String(), "to", to.String())
	})
	go p.pingLoop()
	return p
}

func (p *RedisPubSub) pingLoop() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	p.probe()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *RedisPubSub) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PingInterval)
	defer cancel()

	if err := p.client.Ping(ctx).Err(); err != nil {
		p.setStatus(domain.ConnDisconnected)
		return
	}
	p.setStatus(domain.ConnConnected)
}

func (p *RedisPubSub) setStatus(status domain.ConnStatus) {
	p.mu.Lock()
	if p.status == status {
		p.mu.Unlock()
		return
	}
	p.status = status
	listeners := make([]func(domain.ConnStatus), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	p.logger.Infow("signaling transport status changed", "status", status)
	for _, fn := range listeners {
		fn(status)
	}
}

func (p *RedisPubSub) Status() domain.ConnStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *RedisPubSub) OnStatusChange(fn func(domain.ConnStatus)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Publish goes through a circuit breaker so a dead broker makes callers
// fail fast instead of each one waiting out its own timeout.
func (p *RedisPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.breaker.Execute(ctx, func() error {
		return p.client.Publish(ctx, topic, payload).Err()
	})
}

// Subscribe delivers payloads for topic until cancel is called or ctx ends.
// The receive loop survives broker restarts: a dropped subscription is
// re-established with bounded backoff, and only when the backoff budget is
// spent does the channel close.
func (p *RedisPubSub) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	sub := p.client.Subscribe(subCtx, topic)
	// Force the initial round trip so a dead broker fails fast here instead
	// of inside the receive loop.
	if _, err := sub.Receive(subCtx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 64)
	go p.receiveLoop(subCtx, topic, sub, out)
	return out, cancel, nil
}

func (p *RedisPubSub) receiveLoop(ctx context.Context, topic string, sub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer func() { _ = sub.Close() }()

	for {
		msgCh := sub.Channel()
	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					break drain
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}

		// The client closed the subscription under us. Rebuild it.
		_ = sub.Close()
		next, err := p.resubscribe(ctx, topic)
		if err != nil {
			p.logger.Errorw("subscription lost", "topic", topic, "error", err)
			return
		}
		sub = next
	}
}

func (p *RedisPubSub) resubscribe(ctx context.Context, topic string) (*redis.PubSub, error) {
	var sub *redis.PubSub
	err := retry.Retry(ctx, retry.Config{
		Enabled:      true,
		MaxAttempts:  p.cfg.ResubscribeMax,
		InitialDelay: p.cfg.ResubscribeMin,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}, func() error {
		s := p.client.Subscribe(ctx, topic)
		if _, err := s.Receive(ctx); err != nil {
			_ = s.Close()
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Infow("subscription re-established", "topic", topic)
	return sub, nil
}

// Close stops the ping loop. Subscriptions are owned by their contexts.
func (p *RedisPubSub) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

var _ ports.PubSub = (*RedisPubSub)(nil)
