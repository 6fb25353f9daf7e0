package async_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainsentry/evm-transfer-monitor/async"
	"github.com/stretchr/testify/assert"
)

func TestDebounce_CollapsesBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan interface{}, 100)
	var handled int32
	go async.Debounce(ctx, 50*time.Millisecond, events, func(_ interface{}) {
		atomic.AddInt32(&handled, 1)
	})

	for i := 0; i < 10; i++ {
		events <- i
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&handled), "burst should collapse into one invocation")
}

func TestDebounce_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan interface{}, 1)
	var handled int32
	go async.Debounce(ctx, 20*time.Millisecond, events, func(_ interface{}) {
		atomic.AddInt32(&handled, 1)
	})

	events <- struct{}{}
	cancel()

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&handled), int32(1))
}
