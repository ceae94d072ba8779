package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFixedWindow_AllowsCeilingThenRejects(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	fw := NewFixedWindow(map[Class]int{ClassCreate: 5, ClassList: 2}, clk)

	for i := 0; i < 5; i++ {
		assert.True(t, fw.Allow("t1", ClassCreate), "request %d", i+1)
	}
	assert.False(t, fw.Allow("t1", ClassCreate), "request N+1 must be throttled")

	// Other tenants and classes have their own counters
	assert.True(t, fw.Allow("t2", ClassCreate))
	assert.True(t, fw.Allow("t1", ClassList))
}

func TestFixedWindow_ResetsOnNextSecond(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 900_000_000, time.UTC))
	fw := NewFixedWindow(map[Class]int{ClassCreate: 1}, clk)

	assert.True(t, fw.Allow("t1", ClassCreate))
	assert.False(t, fw.Allow("t1", ClassCreate))

	// 200ms later is a new wall-clock second
	clk.Add(200 * time.Millisecond)
	assert.True(t, fw.Allow("t1", ClassCreate))
}

func TestFixedWindow_ZeroCeilingIsUnlimited(t *testing.T) {
	fw := NewFixedWindow(map[Class]int{ClassCreate: 0}, clock.NewMock())
	for i := 0; i < 1000; i++ {
		assert.True(t, fw.Allow("t1", ClassCreate))
	}
	assert.True(t, fw.Allow("t1", ClassList), "classes without a ceiling are unlimited")
}

func TestFixedWindow_SweepDropsPastWindows(t *testing.T) {
	clk := clock.NewMock()
	fw := NewFixedWindow(map[Class]int{ClassCreate: 3}, clk)
	fw.Allow("t1", ClassCreate)
	fw.Allow("t2", ClassCreate)
	assert.Equal(t, 2, fw.Len())

	clk.Add(time.Second)
	fw.Allow("t2", ClassCreate)
	fw.Sweep()
	assert.Equal(t, 1, fw.Len())
}

func TestFixedWindow_Concurrent(t *testing.T) {
	fw := NewFixedWindow(map[Class]int{ClassCreate: 50}, clock.NewMock())

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fw.Allow("t1", ClassCreate) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowed.Load())
}

func TestScanLimiter_PerTenantAndIP(t *testing.T) {
	l := NewScanLimiter(3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("t1", "10.0.0.1"))
	}
	assert.False(t, l.Allow("t1", "10.0.0.1"))
	assert.True(t, l.Allow("t1", "10.0.0.2"))
	assert.True(t, l.Allow("t2", "10.0.0.1"))

	l.Sweep()
	assert.Equal(t, 0, l.Len())
	assert.True(t, l.Allow("t1", "10.0.0.1"))
}

func TestScanLimiter_Disabled(t *testing.T) {
	l := NewScanLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("t1", "10.0.0.1"))
	}
}

func TestSweeper_ResetsTargetsOnInterval(t *testing.T) {
	clk := clock.NewMock()
	l := NewScanLimiter(1)
	s := NewSweeper(time.Minute, clk, zap.NewNop(), l)

	s.Start(context.Background())
	defer s.Stop()

	assert.True(t, l.Allow("t1", "ip"))
	assert.False(t, l.Allow("t1", "ip"))

	clk.Add(time.Minute)

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, l.Allow("t1", "ip"))
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	s := NewSweeper(time.Minute, clock.NewMock(), zap.NewNop())
	s.Stop()
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSweeper_ExitsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSweeper(time.Minute, clock.NewMock(), zap.NewNop())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
