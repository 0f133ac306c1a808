//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub Reactor for platforms without an epoll-backed implementation.

package reactor

import "errors"

// NewReactor returns an error: only Linux has a Reactor implementation.
func NewReactor() (Reactor, error) {
	return nil, errors.New("reactor: this platform is not supported")
}
