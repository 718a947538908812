package idmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestinationMapping(t *testing.T) {
	tr := NewTranslator()

	d1 := tr.NewDestinationID(100)
	d2 := tr.NewDestinationID(100)
	d3 := tr.NewDestinationID(200)

	// 目的编号单调且互不相同
	assert.NotEqual(t, d1, d2)
	assert.NotEqual(t, d2, d3)

	src, ok := tr.SourceOf(d1)
	require.True(t, ok)
	assert.Equal(t, int64(100), src)

	dsts, ok := tr.DestinationsOf(100)
	require.True(t, ok)
	assert.ElementsMatch(t, []int64{d1, d2}, dsts)

	// 未知编号与空集合是两种情况
	_, ok = tr.DestinationsOf(999)
	assert.False(t, ok)
	_, ok = tr.SourceOf(999999)
	assert.False(t, ok)
}

func TestCountDown(t *testing.T) {
	tr := NewTranslator()
	dst := tr.NewDestinationIDWithCount(100, 5)

	remaining, ok := tr.Remaining(dst)
	require.True(t, ok)
	assert.Equal(t, int64(5), remaining)

	require.NoError(t, tr.CountDown(dst, 3))
	remaining, _ = tr.Remaining(dst)
	assert.Equal(t, int64(2), remaining)

	// 扣到 0 是合法状态
	require.NoError(t, tr.CountDown(dst, 2))
	remaining, ok = tr.Remaining(dst)
	require.True(t, ok)
	assert.Equal(t, int64(0), remaining)

	// 再扣就是下溢
	err := tr.CountDown(dst, 1)
	assert.ErrorIs(t, err, ErrCountDownUnderflow)

	// 不带倒计数的目的编号
	plain := tr.NewDestinationID(100)
	err = tr.CountDown(plain, 1)
	assert.ErrorIs(t, err, ErrCountDownNotFound)
}

func TestExhaust(t *testing.T) {
	tr := NewTranslator()
	dst := tr.NewDestinationIDWithCount(100, 5)

	// 撤销后剩余量清零, 映射本身保留
	tr.Exhaust(dst)
	remaining, ok := tr.Remaining(dst)
	require.True(t, ok)
	assert.Equal(t, int64(0), remaining)

	src, ok := tr.SourceOf(dst)
	require.True(t, ok)
	assert.Equal(t, int64(100), src)

	// 清零后成交回报就是下溢
	assert.ErrorIs(t, tr.CountDown(dst, 1), ErrCountDownUnderflow)

	// 未知编号不产生条目
	tr.Exhaust(999999)
	_, ok = tr.Remaining(999999)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	tr := NewTranslator()
	dst := tr.NewDestinationIDWithCount(100, 3)

	tr.Clear()

	_, ok := tr.SourceOf(dst)
	assert.False(t, ok)
	_, ok = tr.Remaining(dst)
	assert.False(t, ok)

	// 清空后编号继续单调, 不回卷复用
	next := tr.NewDestinationID(100)
	assert.Greater(t, next, dst)
}

func TestConcurrentAllocation(t *testing.T) {
	tr := NewTranslator()

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(src int64) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				dst := tr.NewDestinationIDWithCount(src, 1)
				assert.NoError(t, tr.CountDown(dst, 1))
			}
		}(int64(w))
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		dsts, ok := tr.DestinationsOf(int64(w))
		require.True(t, ok)
		assert.Len(t, dsts, perWorker)
	}
}
