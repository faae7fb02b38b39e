package completion_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/completion"
)

func TestFuture_FirstCompletionWins(t *testing.T) {
	f := completion.New[string]()
	assert.True(t, f.Resolve("first"))
	assert.False(t, f.Resolve("second"))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestFuture_Reject(t *testing.T) {
	f := completion.Rejected[bool](errors.New("boom"))
	_, err := f.Wait(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestFuture_ConcurrentCompletion(t *testing.T) {
	f := completion.New[int]()
	var wg sync.WaitGroup
	wins := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins <- f.Resolve(i)
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := completion.New[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.Resolve("later")
	select {
	case <-f.Done():
	default:
		t.Fatal("future should be done")
	}
}
