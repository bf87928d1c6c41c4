// Package notify 将引擎的低库存事件投递到消息中间件
//
// 投递语义：至少一次（at-least-once）
//   - 重复通知可容忍（消费侧按product_id去重即可），漏发不可容忍
//   - 发布失败的事件进入缓冲，由后台循环重投直到成功
//   - 熔断器隔离中间件故障：RabbitMQ不可用时快速失败进缓冲，
//     库存变更主流程完全不受影响
package notify

import (
	"context"
	"log"
	"time"

	"github.com/fengze/stockcore/internal/domain/stock"
	"github.com/fengze/stockcore/pkg/circuitbreaker"
	"github.com/fengze/stockcore/pkg/metrics"
)

// 路由键
const (
	RoutingKeyLowStock  = "stock.low"
	RoutingKeyRestocked = "stock.restocked"
)

// publisher 消息发布接口（*mq.Publisher满足；测试注入桩）
type publisher interface {
	Publish(routingKey string, message interface{}) error
}

// envelope 待投递的事件
type envelope struct {
	routingKey string
	message    interface{}
}

// Notifier 事件通知器，实现stock.EventPublisher
type Notifier struct {
	pub     publisher
	breaker *circuitbreaker.CircuitBreaker

	pending chan envelope
	done    chan struct{}

	retryInterval time.Duration
}

// NewNotifier 创建通知器并启动后台重投循环
//
// buffer为重投缓冲大小；缓冲打满说明中间件长时间不可用，
// 此时最老的投递语义退化为尽力而为（记错误日志）
func NewNotifier(pub publisher, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 1024
	}

	metrics.InitMetrics()

	breaker := circuitbreaker.NewCircuitBreaker("notify", circuitbreaker.Config{
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c circuitbreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	breaker.SetStateChangeCallback(func(name string, from, to circuitbreaker.State) {
		log.Printf("🔌 熔断器状态变化: %s %s → %s", name, from, to)
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	})

	n := &Notifier{
		pub:           pub,
		breaker:       breaker,
		pending:       make(chan envelope, buffer),
		done:          make(chan struct{}),
		retryInterval: 5 * time.Second,
	}

	go n.redeliverLoop()

	return n
}

// PublishLowStock 发布低库存事件
func (n *Notifier) PublishLowStock(ctx context.Context, event stock.LowStockEvent) error {
	return n.publish(RoutingKeyLowStock, event)
}

// PublishRestocked 发布库存恢复事件
func (n *Notifier) PublishRestocked(ctx context.Context, event stock.RestockedEvent) error {
	return n.publish(RoutingKeyRestocked, event)
}

// publish 经熔断器发布，失败进缓冲重投
// 进入缓冲视为接受投递（对引擎而言发布已成功）
func (n *Notifier) publish(routingKey string, message interface{}) error {
	err := n.breaker.Execute(func() error {
		return n.pub.Publish(routingKey, message)
	})
	if err == nil {
		metrics.MessagesPublishedTotal.WithLabelValues(routingKey, "success").Inc()
		return nil
	}

	select {
	case n.pending <- envelope{routingKey: routingKey, message: message}:
		metrics.MessagesPublishedTotal.WithLabelValues(routingKey, "buffered").Inc()
		return nil
	default:
		metrics.MessagesPublishedTotal.WithLabelValues(routingKey, "failure").Inc()
		log.Printf("⚠️ 事件缓冲已满，投递失败: routing_key=%s err=%v", routingKey, err)
		return err
	}
}

// redeliverLoop 后台重投循环
func (n *Notifier) redeliverLoop() {
	ticker := time.NewTicker(n.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			n.drainPending()
		}
	}
}

// drainPending 尝试重投当前积压的事件，失败的放回缓冲
func (n *Notifier) drainPending() {
	backlog := len(n.pending)
	for i := 0; i < backlog; i++ {
		var env envelope
		select {
		case env = <-n.pending:
		default:
			return
		}

		err := n.breaker.Execute(func() error {
			return n.pub.Publish(env.routingKey, env.message)
		})
		if err != nil {
			// 放回缓冲等下一轮；满了只能丢弃并记日志
			select {
			case n.pending <- env:
			default:
				log.Printf("⚠️ 重投失败且缓冲已满，事件丢弃: routing_key=%s", env.routingKey)
			}
			return // 中间件仍不可用，本轮不再继续
		}

		metrics.MessagesPublishedTotal.WithLabelValues(env.routingKey, "success").Inc()
	}
}

// Close 停止后台重投循环
func (n *Notifier) Close() {
	close(n.done)
}
