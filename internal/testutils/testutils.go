// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds how long test helpers wait for async completion.
const DefaultTimeout = 5 * time.Second

// TestContext returns a context bounded by DefaultTimeout, cancelled on cleanup.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitClosed asserts the channel closes within the timeout.
func WaitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, "timed out waiting for channel close", msgAndArgs...)
	}
}

// AssertEventually waits for condition to become true
func AssertEventually(t *testing.T, condition func() bool, timeout, tick time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Eventually(t, condition, timeout, tick, msgAndArgs...)
}
