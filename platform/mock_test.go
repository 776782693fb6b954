package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAvailability(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	ok, err := m.Availability(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	m.SetAvailable(false)
	ok, err = m.Availability(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	m.SetUnsupported(true)
	_, err = m.Availability(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestMockRequestDevice(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	_, err := m.RequestDevice(ctx, AcceptAll())
	assert.ErrorIs(t, err, ErrNotFound)

	m.AddDevice(Device{ID: "dev1", Name: "Sensor1", Address: "AA:BB:CC:DD:EE:01"})
	dev, err := m.RequestDevice(ctx, AcceptAll())
	require.NoError(t, err)
	assert.Equal(t, "Sensor1", dev.Name)

	require.Len(t, m.Requests(), 2)
	assert.True(t, m.Requests()[0].AcceptAllDevices)

	m.SetRequestPanic("boom")
	assert.PanicsWithValue(t, "boom", func() { _, _ = m.RequestDevice(ctx, AcceptAll()) })
}

func TestMockHold(t *testing.T) {
	m := NewMock()
	release := m.Hold()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Availability(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("chamada deveria estar bloqueada")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("chamada não foi liberada")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.Hold()
	cancel()
	_, err := m.Availability(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
