//go:build !linux

package guard

func currentThreadID() int {
	return 0
}

func signalThread(int) error {
	return ErrSignalUnsupported
}
