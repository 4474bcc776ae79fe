//go:build !linux

package socketcan

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("socketcan is only available on linux")

func openSocket(string, bool) (int, error) { return -1, errUnsupported }

func newWakePipe() (int, int, error) { return -1, -1, errUnsupported }

func signalWake(int) {}

func pollReadable(int, int, time.Duration) (bool, bool, error) { return false, false, errUnsupported }

func readRaw(int, []byte) (int, error) { return 0, errUnsupported }

func writeRaw(int, []byte) (int, error) { return 0, errUnsupported }

func closeFD(int) error { return nil }

func isTransient(error) bool { return false }
