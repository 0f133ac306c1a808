// File: endpoint/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Immutable per-endpoint configuration, built with functional options. Once
// an Endpoint is constructed, its Configuration never changes — hot-reload
// (see control/hotreload.go) only ever touches process-wide operational
// knobs, never a live endpoint's frame limits or timeouts.

package endpoint

import (
	"time"

	"github.com/momentics/wsendpoint/internal/logging"
)

// Defaults for the recognized options.
const (
	DefaultAutoFrameSize       = 32768
	DefaultMaxFrameSize  int64 = 2097152
	DefaultMaxMsgSize    int64 = 10485760
	DefaultHeartbeatPeriod     = 10 * time.Second
	DefaultClosePeriod         = 3 * time.Second
	DefaultQueuedPingLimit     = 3
	DefaultParserEmitThreshold int64 = 32768
)

// Configuration holds the recognized construction-time options.
type Configuration struct {
	AutoFrameSize       int
	MaxFrameSize        int64
	MaxMsgSize          int64
	HeartbeatPeriod     time.Duration
	ClosePeriod         time.Duration
	ValidateUTF8        bool
	TextOnly            bool
	QueuedPingLimit     int
	ParserEmitThreshold int64

	// ServerRole selects which side of the connection this endpoint plays:
	// true (the default) rejects unmasked inbound payloads (server reads
	// from client). false inverts the policy for a client-role build.
	ServerRole bool

	// Logger receives a structured close-reason record every time this
	// endpoint's close handshake begins. Defaults to logging.Nop().
	Logger *logging.Logger
}

// Option mutates a Configuration during construction.
type Option func(*Configuration)

func defaultConfiguration() Configuration {
	return Configuration{
		AutoFrameSize:       DefaultAutoFrameSize,
		MaxFrameSize:        DefaultMaxFrameSize,
		MaxMsgSize:          DefaultMaxMsgSize,
		HeartbeatPeriod:     DefaultHeartbeatPeriod,
		ClosePeriod:         DefaultClosePeriod,
		QueuedPingLimit:     DefaultQueuedPingLimit,
		ParserEmitThreshold: DefaultParserEmitThreshold,
		ServerRole:          true,
		Logger:              logging.Nop(),
	}
}

// NewConfiguration builds a Configuration from defaults plus opts, in order.
func NewConfiguration(opts ...Option) Configuration {
	cfg := defaultConfiguration()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithAutoFrameSize(n int) Option {
	return func(c *Configuration) { c.AutoFrameSize = n }
}

func WithMaxFrameSize(n int64) Option {
	return func(c *Configuration) { c.MaxFrameSize = n }
}

func WithMaxMsgSize(n int64) Option {
	return func(c *Configuration) { c.MaxMsgSize = n }
}

func WithHeartbeatPeriod(d time.Duration) Option {
	return func(c *Configuration) { c.HeartbeatPeriod = d }
}

func WithClosePeriod(d time.Duration) Option {
	return func(c *Configuration) { c.ClosePeriod = d }
}

func WithValidateUTF8(v bool) Option {
	return func(c *Configuration) { c.ValidateUTF8 = v }
}

func WithTextOnly(v bool) Option {
	return func(c *Configuration) { c.TextOnly = v }
}

func WithQueuedPingLimit(n int) Option {
	return func(c *Configuration) { c.QueuedPingLimit = n }
}

func WithParserEmitThreshold(n int64) Option {
	return func(c *Configuration) { c.ParserEmitThreshold = n }
}

func WithServerRole(v bool) Option {
	return func(c *Configuration) { c.ServerRole = v }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Configuration) { c.Logger = l }
}
