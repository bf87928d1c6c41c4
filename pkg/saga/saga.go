// Package saga 实现带补偿的顺序事务框架
//
// 核心思想：
// 1. 将一串变更拆成多个本地短事务（Step）
// 2. 每个Step配一个补偿操作（Compensate）
// 3. 某步失败时，按逆序补偿所有已完成的步骤
//
// 教学要点：
// - Action和Compensate都必须幂等（网络故障可能导致重试）
// - 补偿期间数据处于中间状态，保证的是最终一致性
// - 典型用法：批量库存调整的全有或全无模式
//   正向=adjust(+delta)，补偿=adjust(-delta)
package saga

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Step 表示Saga中的一个步骤
type Step struct {
	Name       string                          // 步骤名称（日志与调试用）
	Action     func(ctx context.Context) error // 正向操作
	Compensate func(ctx context.Context) error // 补偿操作（可为nil）
}

// Saga 表示一个可补偿的顺序事务
type Saga struct {
	steps    []Step        // 所有步骤（按添加顺序执行）
	executed []Step        // 已执行的步骤（按逆序补偿）
	timeout  time.Duration // 整体超时
}

// NewSaga 创建Saga
//
// 示例：
//
//	s := saga.NewSaga(30 * time.Second)
//	s.AddStep("调整A", adjustA, revertA)
//	s.AddStep("调整B", adjustB, revertB)
//	err := s.Execute(ctx)
func NewSaga(timeout time.Duration) *Saga {
	return &Saga{
		steps:   make([]Step, 0),
		timeout: timeout,
	}
}

// AddStep 追加一个步骤
// 补偿必须只依赖本步骤Action的结果，不依赖后续步骤
func (s *Saga) AddStep(name string, action, compensate func(ctx context.Context) error) {
	s.steps = append(s.steps, Step{
		Name:       name,
		Action:     action,
		Compensate: compensate,
	})
}

// Execute 顺序执行所有步骤
//
// 某步失败（或整体超时）时按逆序补偿已完成的步骤，
// 并返回包装了失败步骤名的错误
func (s *Saga) Execute(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for i, step := range s.steps {
		select {
		case <-ctx.Done():
			// 补偿使用新Context，避免补偿本身也被超时打断
			s.compensate(context.Background())
			return fmt.Errorf("saga超时: %w", ctx.Err())
		default:
		}

		if step.Action != nil {
			if err := step.Action(ctx); err != nil {
				s.compensate(context.Background())
				return fmt.Errorf("步骤[%d:%s]执行失败: %w", i, step.Name, err)
			}
		}

		s.executed = append(s.executed, step)
	}

	return nil
}

// compensate 逆序补偿已执行的步骤
// 单个补偿失败只记日志并继续（尽最大努力），需要人工介入的场景由调用方告警
func (s *Saga) compensate(ctx context.Context) {
	for i := len(s.executed) - 1; i >= 0; i-- {
		step := s.executed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			log.Printf("⚠️ 补偿失败[步骤:%s]: %v", step.Name, err)
		}
	}

	s.executed = nil
}
