// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency provides the lock-free ring buffer backing the
// buffer pool's free-list.
package concurrency
