package consumer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_ExecutesJobs(t *testing.T) {
	wp := NewWorkerPool(3)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		wp.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		})
	}
	wg.Wait()
	wp.Stop()

	assert.Equal(t, int64(50), atomic.LoadInt64(&counter))
}

func TestWorkerPool_SubmitAfterStopIsNoop(t *testing.T) {
	wp := NewWorkerPool(1)
	wp.Stop()

	// Must not panic or block.
	wp.Submit(func() {
		t.Error("job ran after stop")
	})
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	wp := NewWorkerPool(2)
	wp.Stop()
	wp.Stop()
	wp.Wait()
}
