//go:build !linux && !darwin

package ioselector

const platformSupported = false

func createWakeFd() (int, int, error) {
	return -1, -1, ErrUnsupportedPlatform
}

func closeFD(int) error {
	return ErrUnsupportedPlatform
}

func signalWakeFd(int) error {
	return ErrUnsupportedPlatform
}

func drainWakeFd(int) {}
