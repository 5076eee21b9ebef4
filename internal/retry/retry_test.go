package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeterminateRetriesUntilDone(t *testing.T) {
	attempts := 0
	err := Determinate(context.Background(), func() (bool, error) {
		attempts++
		if attempts < 3 {
			return false, nil
		}
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDeterminateSurfacesError(t *testing.T) {
	boom := errors.New("boom")
	err := Determinate(context.Background(), func() (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestDeterminateStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Determinate(ctx, func() (bool, error) {
		t.Fatal("fn should not run once context is already cancelled")
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExternalRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	err := External(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestExternalStopsOnContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := External(ctx, "test", func(ctx context.Context) error {
		return errors.New("always fails")
	})
	require.Error(t, err)
}
