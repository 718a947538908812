// 文件: pkg/ledger/memory_repo_test.go
// 内存账本测试: 事务语义与副本隔离

package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.AddContract(ctx, &Contract{ContractID: 1, Status: ContractOpening}))

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx Repository) error {
		require.NoError(t, tx.AddContract(ctx, &Contract{ContractID: 2, Status: ContractOpening}))
		c, err := tx.GetContractByID(ctx, 1)
		require.NoError(t, err)
		c.Status = ContractOpen
		require.NoError(t, tx.UpdateContract(ctx, c))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// 新增与修改整体回滚
	_, err = repo.GetContractByID(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	c, err := repo.GetContractByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ContractOpening, c.Status)
}

func TestTransactionCommit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	err := repo.Transaction(ctx, func(tx Repository) error {
		return tx.AddContract(ctx, &Contract{ContractID: 1, Status: ContractOpening})
	})
	require.NoError(t, err)

	_, err = repo.GetContractByID(ctx, 1)
	assert.NoError(t, err)
}

// 嵌套事务加入外层: 内层失败只回滚内层起点之后的写入
func TestNestedTransactionJoins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	err := repo.Transaction(ctx, func(tx Repository) error {
		require.NoError(t, tx.AddContract(ctx, &Contract{ContractID: 1, Status: ContractOpening}))

		inner := tx.Transaction(ctx, func(tx2 Repository) error {
			require.NoError(t, tx2.AddContract(ctx, &Contract{ContractID: 2, Status: ContractOpening}))
			return errors.New("inner failed")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	_, err = repo.GetContractByID(ctx, 1)
	assert.NoError(t, err)
	_, err = repo.GetContractByID(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

// 读取返回副本, 修改副本不影响存储
func TestCopyOnRead(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.AddContract(ctx, &Contract{ContractID: 1, Status: ContractOpening}))

	c, err := repo.GetContractByID(ctx, 1)
	require.NoError(t, err)
	c.Status = ContractClosed

	again, err := repo.GetContractByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ContractOpening, again.Status)
}

func TestDuplicateAndNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.AddContract(ctx, &Contract{ContractID: 1}))
	assert.ErrorIs(t, repo.AddContract(ctx, &Contract{ContractID: 1}), ErrDuplicateID)
	assert.ErrorIs(t, repo.UpdateContract(ctx, &Contract{ContractID: 9}), ErrNotFound)
	assert.ErrorIs(t, repo.RemoveContract(ctx, 9), ErrNotFound)

	_, err := repo.GetTradingDay(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	for _, id := range []int64{5, 1, 3} {
		require.NoError(t, repo.AddContract(ctx, &Contract{ContractID: id, InstrumentID: "cu2610"}))
	}

	contracts, err := repo.GetContractsByInstrumentID(ctx, "cu2610")
	require.NoError(t, err)
	require.Len(t, contracts, 3)
	assert.Equal(t, int64(1), contracts[0].ContractID)
	assert.Equal(t, int64(3), contracts[1].ContractID)
	assert.Equal(t, int64(5), contracts[2].ContractID)
}
