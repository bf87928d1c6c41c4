package bulk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fengze/stockcore/internal/application/engine"
	"github.com/fengze/stockcore/internal/domain/stock"
	"github.com/fengze/stockcore/internal/infrastructure/persistence/memory"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *engine.Engine) {
	t.Helper()

	stocks := memory.NewStockRepository()
	eng := engine.New(stocks, memory.NewReservationRepository(), engine.Options{})
	return NewCoordinator(eng, stocks), eng
}

func seedStock(t *testing.T, eng *engine.Engine, productID string, quantity int64) {
	t.Helper()

	_, err := eng.Register(context.Background(), productID, 0)
	require.NoError(t, err)
	if quantity > 0 {
		_, err = eng.Adjust(context.Background(), productID, quantity, "初始入库")
		require.NoError(t, err)
	}
}

// TestApply_AllOrNothing_Success 整批合法时全部落地
func TestApply_AllOrNothing_Success(t *testing.T) {
	ctx := context.Background()
	coord, eng := newTestCoordinator(t)
	seedStock(t, eng, "SKU-A", 50)
	seedStock(t, eng, "SKU-B", 10)

	result, err := coord.Apply(ctx, []Item{
		{ProductID: "SKU-A", Delta: -5},
		{ProductID: "SKU-B", Delta: 3},
	}, ModeAllOrNothing, "月度盘点")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, int64(45), result.Items[0].NewQuantity)
	assert.Equal(t, int64(13), result.Items[1].NewQuantity)
	assert.Empty(t, result.FailedItems())
}

// TestApply_AllOrNothing_Rejected 任一条目非法则整批零变更
func TestApply_AllOrNothing_Rejected(t *testing.T) {
	ctx := context.Background()
	coord, eng := newTestCoordinator(t)
	seedStock(t, eng, "SKU-A", 50)
	seedStock(t, eng, "SKU-B", 10)

	result, err := coord.Apply(ctx, []Item{
		{ProductID: "SKU-A", Delta: -5},
		{ProductID: "SKU-B", Delta: -999999},
	}, ModeAllOrNothing, "月度盘点")
	assert.ErrorIs(t, err, ErrBatchRejected)

	require.NotNil(t, result)
	assert.Equal(t, 0, result.Applied)

	failed := result.FailedItems()
	require.Len(t, failed, 1, "报告应该指明是哪一条被拒")
	assert.Equal(t, "SKU-B", failed[0].ProductID)
	assert.ErrorIs(t, failed[0].Err, stock.ErrWouldUnderflow)

	// 合法的那条也不能落地
	rec, _ := eng.Get(ctx, "SKU-A")
	assert.Equal(t, int64(50), rec.Quantity, "整批拒绝必须零变更")
}

// TestApply_AllOrNothing_MissingProduct 未知商品导致整批拒绝
func TestApply_AllOrNothing_MissingProduct(t *testing.T) {
	ctx := context.Background()
	coord, eng := newTestCoordinator(t)
	seedStock(t, eng, "SKU-A", 50)

	result, err := coord.Apply(ctx, []Item{
		{ProductID: "SKU-A", Delta: 5},
		{ProductID: "SKU-miss", Delta: 5},
	}, ModeAllOrNothing, "补货")
	assert.ErrorIs(t, err, ErrBatchRejected)

	failed := result.FailedItems()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, stock.ErrProductNotFound)

	rec, _ := eng.Get(ctx, "SKU-A")
	assert.Equal(t, int64(50), rec.Quantity)
}

// TestApply_BestEffort_Partial 单条失败不阻塞其余
func TestApply_BestEffort_Partial(t *testing.T) {
	ctx := context.Background()
	coord, eng := newTestCoordinator(t)
	seedStock(t, eng, "SKU-A", 50)
	seedStock(t, eng, "SKU-B", 10)

	result, err := coord.Apply(ctx, []Item{
		{ProductID: "SKU-A", Delta: -5},
		{ProductID: "SKU-B", Delta: -999999},
		{ProductID: "SKU-miss", Delta: 1},
	}, ModeBestEffort, "月度盘点")
	require.NoError(t, err, "尽力而为模式本身不报错，成败看逐条报告")

	assert.Equal(t, 1, result.Applied)
	require.Len(t, result.Items, 3, "报告必须按提交顺序覆盖每一条")

	assert.NoError(t, result.Items[0].Err)
	assert.Equal(t, int64(45), result.Items[0].NewQuantity)
	assert.ErrorIs(t, result.Items[1].Err, stock.ErrWouldUnderflow)
	assert.ErrorIs(t, result.Items[2].Err, stock.ErrProductNotFound)

	rec, _ := eng.Get(ctx, "SKU-A")
	assert.Equal(t, int64(45), rec.Quantity)
	rec, _ = eng.Get(ctx, "SKU-B")
	assert.Equal(t, int64(10), rec.Quantity)
}

// TestApply_InvalidMode 未知模式
func TestApply_InvalidMode(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Apply(context.Background(), []Item{{ProductID: "SKU-A", Delta: 1}}, Mode("half_hearted"), "")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

// contentionStocks 指定商品CAS永远冲突的仓储桩
// 模拟校验通过之后、应用之前被并发写入者抢先的窗口
type contentionStocks struct {
	*memory.StockRepository
	conflictOn string
}

func (c *contentionStocks) CompareAndApply(ctx context.Context, productID string, expectedVersion int64, apply func(*stock.StockRecord) error) (*stock.StockRecord, error) {
	if productID == c.conflictOn {
		return nil, stock.ErrVersionConflict
	}
	return c.StockRepository.CompareAndApply(ctx, productID, expectedVersion, apply)
}

// TestApply_AllOrNothing_CompensatesOnRace 应用期失败触发逆序补偿回到零变更
func TestApply_AllOrNothing_CompensatesOnRace(t *testing.T) {
	ctx := context.Background()

	inner := memory.NewStockRepository()
	require.NoError(t, inner.Create(ctx, &stock.StockRecord{ProductID: "SKU-A", Quantity: 50}))
	require.NoError(t, inner.Create(ctx, &stock.StockRecord{ProductID: "SKU-B", Quantity: 10}))

	stocks := &contentionStocks{StockRepository: inner, conflictOn: "SKU-B"}
	eng := engine.New(stocks, memory.NewReservationRepository(), engine.Options{MaxRetries: 2})
	coord := NewCoordinator(eng, stocks)

	result, err := coord.Apply(ctx, []Item{
		{ProductID: "SKU-A", Delta: 5},
		{ProductID: "SKU-B", Delta: 5},
	}, ModeAllOrNothing, "补货")
	assert.ErrorIs(t, err, ErrBatchRejected)

	require.NotNil(t, result)
	assert.Equal(t, 0, result.Applied)
	assert.ErrorIs(t, result.Items[1].Err, stock.ErrContention)

	// 已应用的SKU-A被补偿回去
	rec, _ := eng.Get(ctx, "SKU-A")
	assert.Equal(t, int64(50), rec.Quantity, "补偿后整批等效零变更")
}
