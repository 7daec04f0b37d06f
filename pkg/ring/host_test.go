//go:build linux

package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHost_DeliveryFilterPerDirection(t *testing.T) {
	t.Parallel()

	h := newTestHandle(t, nil)
	host, err := h.AddHost(20)
	require.NoError(t, err)

	require.True(t, host.ShouldDeliver(true, 100))
	host.HasBeenDelivered(true, 100)
	require.False(t, host.ShouldDeliver(true, 100))
	require.True(t, host.ShouldDeliver(true, 101))

	// The unicast stream keeps its own state.
	require.True(t, host.ShouldDeliver(false, 100))
	host.HasBeenDelivered(false, 100)
	require.False(t, host.ShouldDeliver(false, 100))
}

func TestHost_ActiveFlag(t *testing.T) {
	t.Parallel()

	h := newTestHandle(t, nil)
	host, err := h.AddHost(21)
	require.NoError(t, err)

	require.False(t, host.Active())
	host.SetActive(true)
	require.True(t, host.Active())
}
