package sensor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceUnknownName(t *testing.T) {
	_, err := NewSource("pressure_sensor1", 0, nil)
	assert.ErrorIs(t, err, ErrUnknownSensor)
}

func TestSourceDefaultPeriod(t *testing.T) {
	src, err := NewSource("temperature_sensor1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, src.profile.Period)

	src, err = NewSource("temperature_sensor1", 50*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, src.profile.Period)
}

func TestSourceEmitsReadingsInRange(t *testing.T) {
	for _, id := range Known() {
		t.Run(id.Name(), func(t *testing.T) {
			src, err := NewSource(id.Name(), 5*time.Millisecond, nil)
			require.NoError(t, err)

			var mu sync.Mutex
			var readings []Reading
			src.OnReading(func(r Reading) {
				mu.Lock()
				readings = append(readings, r)
				mu.Unlock()
			})

			require.NoError(t, src.Start())
			assert.True(t, src.IsRunning())
			assert.ErrorIs(t, src.Start(), ErrSourceRunning)

			assert.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(readings) >= 3
			}, time.Second, 5*time.Millisecond)

			src.Stop()
			src.Stop()
			src.Wait()
			assert.False(t, src.IsRunning())

			profile, ok := DefaultProfile(id)
			require.True(t, ok)

			mu.Lock()
			defer mu.Unlock()
			for _, r := range readings {
				assert.Equal(t, id, r.Sensor)
				assert.GreaterOrEqual(t, r.Value, profile.Min)
				assert.Less(t, r.Value, profile.Max)
			}
		})
	}
}

func TestSourceStopsPromptly(t *testing.T) {
	src, err := NewSource("speed_sensor2", 0, nil)
	require.NoError(t, err)
	require.NoError(t, src.Start())

	done := make(chan struct{})
	go func() {
		src.Stop()
		src.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("source did not stop before its 5s period elapsed")
	}
}

func TestWaitWithoutStart(t *testing.T) {
	src, err := NewSource("speed_sensor1", 0, nil)
	require.NoError(t, err)
	src.Wait()
	src.Stop()
}
