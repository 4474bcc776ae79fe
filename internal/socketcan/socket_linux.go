//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// openSocket returns a raw CAN socket bound to ifname.
func openSocket(ifname string, fd bool) (int, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return -1, err
	}

	sock, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if fd {
		if err := unix.SetsockoptInt(sock, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			unix.Close(sock)
			return -1, fmt.Errorf("enable fd frames: %w", err)
		}
	}

	if err := unix.Bind(sock, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(sock)
		return -1, fmt.Errorf("bind: %w", err)
	}
	return sock, nil
}

// newWakePipe returns the read and write ends of a non-blocking pipe used to
// interrupt a pending poll.
func newWakePipe() (int, int, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, fmt.Errorf("pipe: %w", err)
	}
	return p[0], p[1], nil
}

func signalWake(w int) {
	// A full pipe already wakes the poller.
	_, _ = unix.Write(w, []byte{1})
}

var errPollFailed = errors.New("poll reported an error on the socket")

// pollReadable waits up to timeout for sock or the wake pipe to become readable.
func pollReadable(sock, wake int, timeout time.Duration) (readable, woken bool, err error) {
	fds := []unix.PollFd{
		{Fd: int32(sock), Events: unix.POLLIN | unix.POLLPRI},
		{Fd: int32(wake), Events: unix.POLLIN},
	}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, false, nil
	}
	if fds[1].Revents != 0 {
		return false, true, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL|unix.POLLHUP) != 0 {
		return false, false, errPollFailed
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLPRI) != 0, false, nil
}

func readRaw(sock int, buf []byte) (int, error) {
	return unix.Read(sock, buf)
}

func writeRaw(sock int, b []byte) (int, error) {
	return unix.Write(sock, b)
}

func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}
