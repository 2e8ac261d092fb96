package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunSucceedsAfterRetries(t *testing.T) {
	s := Strategy{Total: time.Second, Delay: time.Millisecond}
	calls := 0
	err := s.Run(func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRunReturnsLastError(t *testing.T) {
	s := Strategy{Total: 20 * time.Millisecond, Delay: 5 * time.Millisecond}
	calls := 0
	err := s.Run(func() error {
		calls++
		return errors.New("still failing")
	})
	require.EqualError(t, err, "still failing")
	require.True(t, calls >= 2, "expected at least two calls, got %d", calls)
}

func TestRunHonoursMin(t *testing.T) {
	s := Strategy{Min: 4}
	calls := 0
	err := s.Run(func() error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 4, calls)
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := Strategy{Total: time.Second, Delay: time.Millisecond}
	err := s.RunContext(ctx, func() error { return errors.New("fail") })
	require.Equal(t, context.Canceled, err)
}
