package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scizoninc/scizonai/pkg/logger"
)

func TestRunIsLIFOAndOnce(t *testing.T) {
	c := New(logger.NewTestLogger())
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		c.Add(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	c.Run(context.Background())
	c.Run(context.Background())
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestRunSwallowsErrorsAndContinues(t *testing.T) {
	log := logger.NewTestLogger()
	c := New(log)
	ran := 0
	c.Add("first", func(context.Context) error { ran++; return nil })
	c.Add("broken", func(context.Context) error { ran++; return errors.New("gone") })

	c.Run(context.Background())
	assert.Equal(t, 2, ran)
	assert.Equal(t, 1, log.Count("WARN", "cleanup failed"))
}

func TestRunSurvivesCancelledRequest(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	c.Add("file", func(ctx context.Context) error {
		sawErr = ctx.Err()
		return nil
	})
	c.Run(ctx)
	assert.NoError(t, sawErr)
}

func TestConcurrentAdd(t *testing.T) {
	c := New(nil)
	var mu sync.Mutex
	released := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("h%d", i)
			c.Add(name, func(context.Context) error {
				mu.Lock()
				released[name] = true
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	c.Run(context.Background())
	assert.Len(t, released, 50)
}

func TestAddAfterRunReleasesImmediately(t *testing.T) {
	c := New(nil)
	c.Run(context.Background())
	called := false
	c.Add("late", func(context.Context) error { called = true; return nil })
	assert.True(t, called)
}
