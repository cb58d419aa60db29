package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(start, end int, counter *int64) error {
	atomic.AddInt64(counter, int64(end-start))
	return nil
}

func TestForRange(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 10000

	err := ForRange(context.Background(), n, func(start, end int) error {
		return count(start, end, &counter)
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(n), counter)
}

func TestForRange_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	calls := 0
	err := ForRange(context.Background(), 100, func(start, end int) error {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 100, end)
		return nil
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestForRange_CoversEveryIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}

	seen := make([]int32, 1000)
	err := ForRange(context.Background(), len(seen), func(start, end int) error {
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
		return nil
	}, cfg)
	require.NoError(t, err)

	for i, v := range seen {
		require.Equal(t, int32(1), v, "index %d", i)
	}
}

func TestForRange_Error(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}
	boom := errors.New("boom")

	err := ForRange(context.Background(), 1000, func(start, _ int) error {
		if start == 0 {
			return boom
		}
		return nil
	}, cfg)
	require.ErrorIs(t, err, boom)
}

func TestWithWorkers(t *testing.T) {
	cfg := DefaultConfig().WithWorkers(1)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1, cfg.NumWorkers)

	cfg = DefaultConfig().WithWorkers(0)
	assert.Equal(t, DefaultConfig(), cfg)
}

func BenchmarkForRange(b *testing.B) {
	cfg := DefaultConfig()
	n := 100000
	sum := func(counter *int64) func(start, end int) error {
		return func(start, end int) error {
			var s int64
			for i := start; i < end; i++ {
				s += int64(i)
			}
			atomic.AddInt64(counter, s)
			return nil
		}
	}

	b.Run("parallel", func(b *testing.B) {
		for b.Loop() {
			var total int64
			_ = ForRange(context.Background(), n, sum(&total), cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for b.Loop() {
			var total int64
			_ = ForRange(context.Background(), n, sum(&total), cfgSeq)
		}
	})
}
