// Package notify 明信片事件通知：有界队列 + 后台 worker，调用方永不阻塞
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/pkg/logger"
	"github.com/d60-Lab/postcard-capsule/pkg/monitor"
)

var deliveredCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "postcard",
		Name:      "notifications_total",
		Help:      "Notifications handled by the dispatcher.",
	},
	[]string{"event", "result"}, // result: delivered, failed, dropped
)

// Notification 发给单个用户的一条事件
type Notification struct {
	UserID    string                  `json:"user_id"`
	Event     model.NotificationEvent `json:"event"`
	Payload   map[string]any          `json:"payload,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// Sink 通知投递目标
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher 本地异步通知投递器；队列满时丢弃并告警
type Dispatcher struct {
	sinks          []Sink
	ch             chan Notification
	deliverTimeout time.Duration

	// mu 保证 stop 之后不会再有入队：Notify 持读锁完成检查与入队，stop 持写锁置位
	mu      sync.RWMutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	dropped atomic.Int64
}

func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Dispatcher{
		sinks:          sinks,
		ch:             make(chan Notification, queueSize),
		deliverTimeout: 5 * time.Second,
		stopCh:         make(chan struct{}),
	}
}

// Start 启动若干 worker；返回停止函数，停止时尽量排空队列直到 ctx 结束
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	return d.stop
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-d.stopCh:
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) stop(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.stopCh)
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("notification queue not drained before shutdown", zap.Int("pending", len(d.ch)))
		return ctx.Err()
	}
}

// Notify 给 userID 投递一条事件；从不阻塞也不向调用方报错，队列满或已停止时丢弃
func (d *Dispatcher) Notify(userID string, event model.NotificationEvent, payload map[string]any) {
	n := Notification{UserID: userID, Event: event, Payload: payload, CreatedAt: time.Now().UTC()}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.drop(n, "dispatcher stopped, drop notification")
		return
	}
	select {
	case d.ch <- n:
	default:
		d.drop(n, "notification queue full, drop")
	}
}

func (d *Dispatcher) drop(n Notification, msg string) {
	d.dropped.Add(1)
	deliveredCounter.WithLabelValues(string(n.Event), "dropped").Inc()
	logger.Warn(msg, zap.String("user", n.UserID), zap.String("event", string(n.Event)))
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.deliverTimeout)
	defer cancel()

	result := "delivered"
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, n); err != nil {
			result = "failed"
			logger.Error("notification delivery failed",
				zap.String("user", n.UserID),
				zap.String("event", string(n.Event)),
				zap.Error(err))
			monitor.CaptureError(err, map[string]string{"component": "notify", "event": string(n.Event)})
		}
	}
	deliveredCounter.WithLabelValues(string(n.Event), result).Inc()
}

// QueueLen 返回当前队列长度（采样值）
func (d *Dispatcher) QueueLen() int { return len(d.ch) }

// Dropped 返回累计丢弃条数
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
