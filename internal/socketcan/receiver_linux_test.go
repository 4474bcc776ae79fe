//go:build linux

package socketcan

import (
	"sync"
	"testing"
	"time"

	"github.com/brutella/can"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// pipeReceiver returns a receiver whose socket is the read end of a pipe,
// plus the write end used to feed it raw frames.
func pipeReceiver(t *testing.T, m *metrics.Metrics, timeout time.Duration) (*Receiver, int) {
	t.Helper()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	wakeR, wakeW, err := newWakePipe()
	require.NoError(t, err)

	r := NewReceiver("pipe0", transport.Options{ReceiveTimeout: timeout, Metrics: m})
	r.sock, r.wakeR, r.wakeW = p[0], wakeR, wakeW
	t.Cleanup(func() { unix.Close(p[1]) })
	return r, p[1]
}

func fdClosed(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == unix.EBADF
}

func TestReceiverIngestsFromSocket(t *testing.T) {
	m := metrics.New()
	r, w := pipeReceiver(t, m, 5*time.Second)
	sock, wakeR, wakeW := r.sock, r.wakeR, r.wakeW

	var mu sync.Mutex
	var got []canframe.Frame
	sub := r.Subscribe(func(f canframe.Frame) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f)
		return nil
	})
	defer sub.Unsubscribe()
	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Start(), transport.ErrAlreadyStarted)

	raw, err := can.Marshal(can.Frame{ID: 0x100, Length: 5, Data: [8]uint8{1, 0, 0, 0xA0, 0x41}})
	require.NoError(t, err)
	_, err = unix.Write(w, raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, canframe.Frame{ID: 0x100, Data: []byte{1, 0, 0, 0xA0, 0x41}}, got[0])
	mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("pipe0")))

	_, err = unix.Write(w, make([]byte, 10))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.FramesDropped.WithLabelValues("pipe0", metrics.ReasonMalformed)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The loop is parked in a 5s poll; Close must wake it through the pipe.
	start := time.Now()
	require.NoError(t, r.Close())
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, r.IsOpen())
	assert.True(t, fdClosed(sock))
	assert.True(t, fdClosed(wakeR))
	assert.True(t, fdClosed(wakeW))

	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
	require.NoError(t, r.Close())
}

func TestReceiverStopEndsLoopWithinTimeout(t *testing.T) {
	r, _ := pipeReceiver(t, nil, 20*time.Millisecond)
	require.NoError(t, r.Start())

	r.Stop()
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not notice stop")
	}
	require.NoError(t, r.Close())
	assert.False(t, r.IsOpen())
}
