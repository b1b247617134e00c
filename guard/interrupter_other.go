//go:build !linux && !darwin

package guard

func (SocketInterrupter) Prepare(int) error {
	return nil
}

func (SocketInterrupter) Signal(*Token) error {
	return ErrSignalUnsupported
}
