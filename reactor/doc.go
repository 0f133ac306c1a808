// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a poll-mode event reactor abstraction with a
// Linux epoll backing implementation; other platforms get a stub.
package reactor
