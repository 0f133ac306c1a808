//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based Reactor implementation, level-triggered so a
// half-drained read buffer keeps reporting readable instead of requiring an
// edge-triggered drain-to-EAGAIN loop.

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type registration struct {
	interest FDEventType
	cb       FDCallback
}

// linuxReactor is an epoll-based Reactor.
type linuxReactor struct {
	epfd int

	mu   sync.Mutex
	regs map[int]*registration
}

// NewReactor constructs a Linux epoll-backed Reactor.
func NewReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &linuxReactor{epfd: epfd, regs: make(map[int]*registration)}, nil
}

func toEpollEvents(interest FDEventType) uint32 {
	var ev uint32
	if interest&FDReadable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&FDWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) FDEventType {
	var e FDEventType
	if ev&unix.EPOLLIN != 0 {
		e |= FDReadable
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= FDWritable
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= FDHup
	}
	if ev&unix.EPOLLERR != 0 {
		e |= FDError
	}
	return e
}

func (r *linuxReactor) Register(fd uintptr, interest FDEventType, cb FDCallback) error {
	r.mu.Lock()
	r.regs[int(fd)] = &registration{interest: interest, cb: cb}
	r.mu.Unlock()

	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (r *linuxReactor) SetInterest(fd uintptr, interest FDEventType) error {
	r.mu.Lock()
	reg, ok := r.regs[int(fd)]
	if ok {
		reg.interest = interest
	}
	r.mu.Unlock()
	if !ok {
		return unix.ENOENT
	}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (r *linuxReactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	delete(r.regs, int(fd))
	r.mu.Unlock()
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (r *linuxReactor) Poll(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	raw := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(r.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		r.mu.Lock()
		reg := r.regs[fd]
		r.mu.Unlock()
		if reg == nil {
			continue
		}
		reg.cb(uintptr(fd), fromEpollEvents(raw[i].Events))
	}
	return nil
}

func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
