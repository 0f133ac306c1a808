// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload
// propagation, scoped to the process-wide operational knobs endpoints don't
// own themselves: a live Endpoint's Configuration (endpoint/options.go) is
// immutable for its lifetime, so anything reloadable here is deliberately
// outside it.

package control

import (
	"sync"
)

// KnownKeys enumerates the operational knobs this store accepts. SetConfig
// silently drops anything else, so a typo in a reload payload can't silently
// grow the config map with a key nothing reads.
var KnownKeys = map[string]bool{
	"log.level": true,
}

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	copy := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		copy[k] = v
	}
	return copy
}

// LogLevel returns the current log.level knob, or "" if unset.
func (cs *ConfigStore) LogLevel() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	lvl, _ := cs.config["log.level"].(string)
	return lvl
}

// SetConfig merges values recognized by KnownKeys and dispatches reload only
// if something actually changed.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	changed := false
	for k, v := range newCfg {
		if !KnownKeys[k] {
			continue
		}
		if cs.config[k] != v {
			changed = true
		}
		cs.config[k] = v
	}
	if changed {
		cs.dispatchReload()
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}
