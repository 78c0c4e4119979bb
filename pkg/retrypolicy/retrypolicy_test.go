package retrypolicy

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestBackoffIsLinearNotExponential(t *testing.T) {
	assert.Equal(t, FetchInterval, FetchBackoff(0))
	assert.Equal(t, 2*FetchInterval, FetchBackoff(1))
	assert.Equal(t, 3*FetchInterval, FetchBackoff(2))

	assert.Equal(t, WriteInterval, WriteBackoff(0))
	assert.Equal(t, 4*WriteInterval, WriteBackoff(3))

	assert.Equal(t, time.Duration(0), UpdateBackoff(0))
	assert.Equal(t, UpdateInterval, UpdateBackoff(1))
	assert.Equal(t, 2*UpdateInterval, UpdateBackoff(2))
}

func TestSleepRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepZeroReturnsImmediately(t *testing.T) {
	err := Sleep(context.Background(), 0)
	assert.NoError(t, err)
}
