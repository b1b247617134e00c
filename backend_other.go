//go:build !linux && !darwin

package ioselector

import (
	"fmt"
)

const defaultBackendKind = BackendPoll

func newEpollBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, BackendEpoll)
}

func newKqueueBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, BackendKqueue)
}

func newPollBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, BackendPoll)
}
