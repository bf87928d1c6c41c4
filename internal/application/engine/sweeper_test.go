package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fengze/stockcore/internal/domain/reservation"
	"github.com/fengze/stockcore/internal/infrastructure/persistence/memory"
)

// TestSweepExpired 过期预留回收：状态落EXPIRED，占用归还可售池
func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	eng, _, reservations := newTestEngine(t, Options{})
	seedStock(t, eng, "SKU-1001", 10, 0)

	res, err := eng.Reserve(ctx, "SKU-1001", 4, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	swept, err := eng.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, swept, "应该恰好回收一条过期预留")

	got, err := reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StateExpired, got.State)

	rec, _ := eng.Get(ctx, "SKU-1001")
	assert.Equal(t, int64(0), rec.ReservedQuantity, "占用应该归还")
	assert.Equal(t, int64(10), rec.Quantity, "在库量不因过期变化")

	// 被清扫回收后commit报过期，release报终态
	err = eng.Commit(ctx, res.ID)
	assert.ErrorIs(t, err, reservation.ErrReservationExpired, "已回收的预留commit应该报过期")

	err = eng.Release(ctx, res.ID)
	assert.ErrorIs(t, err, reservation.ErrAlreadyTerminal)
}

// TestSweepExpired_SkipsActive 未到期的预留不被回收
func TestSweepExpired_SkipsActive(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, Options{})
	seedStock(t, eng, "SKU-1001", 10, 0)

	_, err := eng.Reserve(ctx, "SKU-1001", 4, time.Hour)
	require.NoError(t, err)

	swept, err := eng.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	rec, _ := eng.Get(ctx, "SKU-1001")
	assert.Equal(t, int64(4), rec.ReservedQuantity)
}

// TestExpireOne_LosesRaceToCommit 清扫与commit竞争时只有一方减量
//
// 模拟清扫器持有过期快照、commit先赢状态CAS的时序
func TestExpireOne_LosesRaceToCommit(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, Options{})
	seedStock(t, eng, "SKU-1001", 10, 0)

	res, err := eng.Reserve(ctx, "SKU-1001", 4, 10*time.Millisecond)
	require.NoError(t, err)

	// 清扫器拿到快照之后、动手之前，commit先完成了
	stale := *res
	require.NoError(t, eng.Commit(ctx, res.ID))

	rec, _ := eng.Get(ctx, "SKU-1001")
	require.Equal(t, int64(6), rec.Quantity)
	require.Equal(t, int64(0), rec.ReservedQuantity)

	err = eng.expireOne(ctx, &stale)
	assert.NoError(t, err, "输掉状态CAS应该静默跳过")

	rec, _ = eng.Get(ctx, "SKU-1001")
	assert.Equal(t, int64(6), rec.Quantity, "绝不双重减量")
	assert.Equal(t, int64(0), rec.ReservedQuantity)
}

// TestSweepExpired_MutateFailureRetriesNextRound 库存CAS失败时回收必须可重试
//
// 回收失败后状态回滚到ACTIVE，预留保持可被下一轮清扫发现
func TestSweepExpired_MutateFailureRetriesNextRound(t *testing.T) {
	ctx := context.Background()
	stocks := &switchableStocks{StockRepository: memory.NewStockRepository()}
	reservations := memory.NewReservationRepository()
	eng := New(stocks, reservations, Options{MaxRetries: 2})
	seedStock(t, eng, "SKU-1001", 10, 0)

	res, err := eng.Reserve(ctx, "SKU-1001", 4, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	stocks.setConflict(true)
	swept, err := eng.SweepExpired(ctx, time.Now())
	require.NoError(t, err, "单条回收失败只记日志，不中断清扫")
	assert.Equal(t, 0, swept)

	got, err := reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StateActive, got.State, "回收失败的预留必须留在ACTIVE等待重试")

	rec, _ := eng.Get(ctx, "SKU-1001")
	assert.Equal(t, int64(4), rec.ReservedQuantity)
	held, _ := reservations.SumActiveHeld(ctx, "SKU-1001")
	assert.Equal(t, rec.ReservedQuantity, held, "ACTIVE预留之和必须等于预留量")

	// 竞争消退后，下一轮清扫完成回收
	stocks.setConflict(false)
	swept, err = eng.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, _ = reservations.GetByID(ctx, res.ID)
	assert.Equal(t, reservation.StateExpired, got.State)
	rec, _ = eng.Get(ctx, "SKU-1001")
	assert.Equal(t, int64(0), rec.ReservedQuantity)
}

// TestPurgeTerminal 终态预留按保留期清除，ACTIVE不受影响
func TestPurgeTerminal(t *testing.T) {
	ctx := context.Background()
	eng, _, reservations := newTestEngine(t, Options{})
	seedStock(t, eng, "SKU-1001", 10, 0)

	released, err := eng.Reserve(ctx, "SKU-1001", 2, time.Minute)
	require.NoError(t, err)
	require.NoError(t, eng.Release(ctx, released.ID))

	active, err := eng.Reserve(ctx, "SKU-1001", 3, time.Minute)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	purged, err := eng.PurgeTerminal(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged, "只应该清除终态预留")

	_, err = reservations.GetByID(ctx, released.ID)
	assert.ErrorIs(t, err, reservation.ErrReservationNotFound)

	_, err = reservations.GetByID(ctx, active.ID)
	assert.NoError(t, err, "ACTIVE预留必须保留")
}

// TestSweeper_Run 后台清扫循环：启动清扫 + ctx取消退出
func TestSweeper_Run(t *testing.T) {
	ctx := context.Background()
	eng, _, reservations := newTestEngine(t, Options{})
	seedStock(t, eng, "SKU-1001", 10, 0)

	res, err := eng.Reserve(ctx, "SKU-1001", 4, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	sweeper := NewSweeper(eng, time.Hour, time.Hour)
	err = sweeper.Run(runCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "ctx取消后Run应该返回")

	// 启动清扫（而非周期tick）应该已回收过期预留
	got, err := reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StateExpired, got.State)

	rec, _ := eng.Get(ctx, "SKU-1001")
	assert.Equal(t, int64(0), rec.ReservedQuantity)
}
