/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(units int) time.Time {
	return epoch.Add(time.Duration(units) * time.Second)
}

func TestAccessWindow_TryGrantAndRecord(t *testing.T) {
	cfg := Config{Count: 2, Duration: 10 * time.Second, MaxKeys: 100}
	var w AccessWindow

	require.True(t, w.NewestAccessTime().IsZero())

	require.True(t, w.TryGrantAndRecord(at(0), cfg))
	require.True(t, w.TryGrantAndRecord(at(1), cfg))
	require.False(t, w.TryGrantAndRecord(at(2), cfg))
	require.Equal(t, 2, w.Len())
	require.Equal(t, at(1), w.NewestAccessTime())
	require.Equal(t, at(0), w.OldestAccessTime())

	// Grants at or before t-duration are out of the window: both t=0 and t=1 expire at t=11.
	require.True(t, w.TryGrantAndRecord(at(11), cfg))
	require.Equal(t, 1, w.Len())
	require.Equal(t, at(11), w.OldestAccessTime())
	require.Equal(t, at(11), w.NewestAccessTime())
}

func TestAccessWindow_DenialKeepsWindow(t *testing.T) {
	cfg := Config{Count: 1, Duration: 10 * time.Second}
	var w AccessWindow

	require.True(t, w.TryGrantAndRecord(at(5), cfg))
	for i := 6; i < 15; i++ {
		require.False(t, w.TryGrantAndRecord(at(i), cfg), "t=%d", i)
	}
	require.Equal(t, 1, w.Len())
	require.Equal(t, at(5), w.NewestAccessTime())

	require.True(t, w.TryGrantAndRecord(at(15), cfg))
}

func TestAccessWindow_OutOfOrderTimes(t *testing.T) {
	cfg := Config{Count: 3, Duration: 10 * time.Second}
	var w AccessWindow

	require.True(t, w.TryGrantAndRecord(at(8), cfg))
	require.True(t, w.TryGrantAndRecord(at(2), cfg))
	require.True(t, w.TryGrantAndRecord(at(5), cfg))
	require.Equal(t, at(2), w.OldestAccessTime())
	require.Equal(t, at(8), w.NewestAccessTime())

	require.False(t, w.TryExpire(at(12), cfg))
	require.Equal(t, 2, w.Len())
	require.Equal(t, at(5), w.OldestAccessTime())

	require.True(t, w.TryExpire(at(18), cfg))
	require.Equal(t, 0, w.Len())
	// The newest grant time is kept after expiry.
	require.Equal(t, at(8), w.NewestAccessTime())
}

func TestAccessWindow_ShrunkCount(t *testing.T) {
	cfg := Config{Count: 3, Duration: 10 * time.Second}
	var w AccessWindow
	for i := 0; i < 3; i++ {
		require.True(t, w.TryGrantAndRecord(at(i), cfg))
	}

	cfg.Count = 1
	require.False(t, w.TryGrantAndRecord(at(3), cfg))
	require.Equal(t, 3, w.Len())
	require.False(t, w.TryGrantAndRecord(at(11), cfg))
	require.True(t, w.TryGrantAndRecord(at(12), cfg))
	require.Equal(t, 1, w.Len())
}
