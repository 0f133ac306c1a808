// File: endpoint/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Endpoint owns one upgraded socket end to end: it drives protocol.Parser
// off the read path, compiles and queues outbound frames through writer,
// and coordinates the close handshake and heartbeat off a single ticker.
// Every callback (OnReadable, OnWritable, onTick, Application hooks) is
// meant to run on one logical task per endpoint; the mutex below exists
// because Go gives no cheap way to pin a ticker goroutine and a reactor
// goroutine to the same thread, not because the design wants shared state.

package endpoint

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/momentics/wsendpoint/api"
	"github.com/momentics/wsendpoint/pool"
	"github.com/momentics/wsendpoint/protocol"
)

const readChunkSize = 8192

// readBufPool backs every endpoint's receive scratch buffer. It is shared
// process-wide rather than per-endpoint: the buffer only needs to survive one
// OnReadable call (protocol.Parser copies whatever it needs to keep into its
// own accumulator), so there is no reason to give each connection its own
// free-list.
var readBufPool = pool.NewPool(1024, readChunkSize)

// Hooks lets the host toggle I/O watcher interest without Endpoint depending
// on a concrete reactor. ArmWrite/DisarmWrite may be called more than once
// in a row; a reactor.Reactor.SetInterest call is idempotent under that.
type Hooks struct {
	ArmRead     func()
	DisarmRead  func()
	ArmWrite    func()
	DisarmWrite func()
}

// Endpoint is one connected peer: the socket, the parser/compiler/writer
// triad, and the close/heartbeat state machine around them.
type Endpoint struct {
	id         string
	remoteAddr string
	conn       api.NetConn
	app        api.Application
	cfg        Configuration
	hooks      Hooks

	parser   *protocol.Parser
	compiler *protocol.Compiler
	wr       *writer
	stats    *Stats
	clock    *ticker

	readBuf api.Buffer

	mu           sync.Mutex
	closedAt     time.Time
	closeTimeout time.Time
	readShutdown bool
	currentMsg   *message

	unloadOnce sync.Once
	unloaded   chan struct{}
}

// NewEndpoint constructs an Endpoint over conn, starts its ticker, and calls
// app.OnOpen before returning so the caller can arm the read watcher only on
// success. headers must be non-empty, mirroring a negotiated upgrade.
func NewEndpoint(conn api.NetConn, id, remoteAddr string, app api.Application, headers map[string][]string, hooks Hooks, opts ...Option) (*Endpoint, error) {
	if len(headers) == 0 {
		return nil, api.NewError(protocol.CloseProtocolError, "negotiated headers must be non-empty")
	}

	cfg := NewConfiguration(opts...)
	now := time.Now()

	ep := &Endpoint{
		id:         id,
		remoteAddr: remoteAddr,
		conn:       conn,
		app:        app,
		cfg:        cfg,
		hooks:      hooks,
		compiler:   protocol.NewCompiler(),
		wr:         newWriter(),
		stats:      newStats(now),
		clock:      newTicker(now),
		readBuf:    readBufPool.Get(readChunkSize),
		unloaded:   make(chan struct{}),
	}
	ep.parser = protocol.NewParser(protocol.Config{
		ServerRole:    cfg.ServerRole,
		MaxFrameSize:  cfg.MaxFrameSize,
		MaxMsgSize:    cfg.MaxMsgSize,
		TextOnly:      cfg.TextOnly,
		ValidateUTF8:  cfg.ValidateUTF8,
		EmitThreshold: cfg.ParserEmitThreshold,
	}, ep.onParserEvent)

	go ep.clock.Run(time.Second, ep.onTick)

	app.OnOpen(ep, headers)

	if hooks.ArmRead != nil {
		hooks.ArmRead()
	}
	return ep, nil
}

// ID returns the endpoint's opaque, stable identity.
func (ep *Endpoint) ID() string { return ep.id }

// RemoteAddr returns the peer address supplied at construction.
func (ep *Endpoint) RemoteAddr() string { return ep.remoteAddr }

// GetInfo returns a snapshot of this endpoint's stats.
func (ep *Endpoint) GetInfo() map[string]any { return ep.stats.Snapshot() }

// Unloaded is closed once unload has run.
func (ep *Endpoint) Unloaded() <-chan struct{} { return ep.unloaded }

// Send enqueues data as a TEXT message, splitting it into frames if it
// exceeds 1.5x the configured autoFrameSize.
func (ep *Endpoint) Send(data []byte) api.Future { return ep.send(data, false) }

// SendBinary enqueues data as a BINARY message.
func (ep *Endpoint) SendBinary(data []byte) api.Future { return ep.send(data, true) }

func (ep *Endpoint) send(data []byte, binary bool) api.Future {
	ep.stats.incMessagesSent()

	opcode := protocol.OpcodeText
	if binary {
		opcode = protocol.OpcodeBinary
	}

	splitAt := ep.cfg.AutoFrameSize + ep.cfg.AutoFrameSize/2
	if len(data) <= splitAt {
		return ep.enqueueFrame(data, opcode, true)
	}

	numFrames := ceilDiv(len(data), ep.cfg.AutoFrameSize)
	frameSize := ceilDiv(len(data), numFrames)

	var last api.Future
	for i := 0; i < numFrames; i++ {
		start := i * frameSize
		end := start + frameSize
		if end > len(data) {
			end = len(data)
		}
		op := protocol.OpcodeContinuation
		if i == 0 {
			op = opcode
		}
		last = ep.enqueueFrame(data[start:end], op, i == numFrames-1)
	}
	return last
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// enqueueFrame compiles and queues one wire frame, arming the write watcher
// if the writer was idle.
func (ep *Endpoint) enqueueFrame(payload []byte, opcode byte, fin bool) api.Future {
	frame := ep.compiler.Compile(payload, opcode, fin)
	wasIdle := !ep.wr.pending()
	fut := ep.wr.enqueue(frame, opcode)
	if wasIdle && ep.hooks.ArmWrite != nil {
		ep.hooks.ArmWrite()
	}
	return fut
}

// Close begins the close handshake. Idempotent: a second call against an
// already-closing endpoint returns an already-resolved Future.
func (ep *Endpoint) Close(code uint16, reason string) api.Future {
	return ep.initiateClose(code, reason)
}

func (ep *Endpoint) initiateClose(code uint16, reason string) api.Future {
	ep.mu.Lock()
	if !ep.closedAt.IsZero() {
		ep.mu.Unlock()
		fut, resolve := api.NewFuture()
		resolve(nil)
		return fut
	}
	now := ep.clock.Now()
	ep.closedAt = now
	ep.closeTimeout = now.Add(ep.cfg.ClosePeriod)
	ep.mu.Unlock()

	ep.stats.setClosedAt(now)
	ep.logClose(code, reason)

	fut := ep.enqueueFrame(protocol.EncodeCloseBody(code, reason), protocol.OpcodeClose, true)
	ep.app.OnClose(ep, code, reason)
	return fut
}

func (ep *Endpoint) logClose(code uint16, reason string) {
	br, bs := ep.stats.byteCounts()
	ep.cfg.Logger.CloseReason(ep.id, code, reason, br, bs)
}

// markClosedByTransport records closure triggered by a dead socket, where no
// close frame can be written. Idempotent against a close already in flight.
func (ep *Endpoint) markClosedByTransport(code uint16, reason string) {
	now := ep.clock.Now()

	ep.mu.Lock()
	alreadyClosed := !ep.closedAt.IsZero()
	if !alreadyClosed {
		ep.closedAt = now
	}
	ep.mu.Unlock()

	if alreadyClosed {
		return
	}
	ep.stats.setClosedAt(now)
	ep.logClose(code, reason)
	ep.app.OnClose(ep, code, reason)
}

// OnReadable is the host's "socket is readable" callback.
func (ep *Endpoint) OnReadable() {
	n, err := ep.conn.Read(ep.readBuf.Bytes())
	now := ep.clock.Now()
	if n > 0 {
		ep.stats.addBytesRead(int64(n), now)
		frames := ep.parser.Feed(ep.readBuf.Bytes()[:n])
		ep.stats.addFramesRead(int64(frames))
	}
	if n == 0 || err != nil {
		ep.handleTransportEOF()
	}
}

func (ep *Endpoint) handleTransportEOF() {
	ep.markClosedByTransport(protocol.CloseAbnormalClosure, "Client closed underlying TCP connection")
	ep.unload()
}

func (ep *Endpoint) onParserEvent(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventControl:
		ep.handleControlFrame(ev)
	case protocol.EventData:
		ep.handleDataFrame(ev)
	case protocol.EventError:
		ep.handleParserError(ev)
	}
}

func (ep *Endpoint) handleControlFrame(ev protocol.Event) {
	switch ev.Opcode {
	case protocol.OpcodePing:
		echo := append([]byte(nil), ev.Payload...)
		ep.enqueueFrame(echo, protocol.OpcodePong, true)
	case protocol.OpcodePong:
		ep.handlePong(ev.Payload)
	case protocol.OpcodeClose:
		ep.handlePeerClose(ev.Payload)
	}
}

// handlePong interprets the payload as an 8-byte big-endian counter: this is
// a project-local liveness protocol, not RFC 6455 semantics. Interoperating
// with a standard peer instead requires treating any PONG within N seconds
// of the matching PING as alive, regardless of payload.
func (ep *Endpoint) handlePong(payload []byte) {
	if len(payload) < 8 {
		return
	}
	received := int64(binary.BigEndian.Uint64(payload))
	ep.stats.setPongCount(received)
}

func (ep *Endpoint) handlePeerClose(payload []byte) {
	ep.mu.Lock()
	alreadyClosed := !ep.closedAt.IsZero()
	ep.mu.Unlock()

	if alreadyClosed {
		ep.mu.Lock()
		ep.closeTimeout = time.Time{}
		ep.mu.Unlock()
		ep.unload()
		return
	}

	// Fewer than 2 bytes: not a well-formed close body. Ignore and keep the
	// read watcher armed rather than fail the connection over it.
	if len(payload) < 2 {
		return
	}
	code, reason, ok := protocol.DecodeCloseBody(payload)
	if !ok {
		return
	}

	ep.shutdownRead()
	ep.initiateClose(code, reason)
}

// shutdownRead tears down the inbound half only, used once a peer close has
// been observed or a protocol error demands no further reads are trusted.
func (ep *Endpoint) shutdownRead() {
	ep.mu.Lock()
	if ep.readShutdown {
		ep.mu.Unlock()
		return
	}
	ep.readShutdown = true
	ep.mu.Unlock()

	if ep.hooks.DisarmRead != nil {
		ep.hooks.DisarmRead()
	}
	_ = ep.conn.CloseRead()
}

func (ep *Endpoint) handleDataFrame(ev protocol.Event) {
	now := ep.clock.Now()
	ep.stats.markDataRead(now)

	ep.mu.Lock()
	msg := ep.currentMsg
	firstChunk := msg == nil
	if firstChunk {
		msg = newMessage(ev.Opcode)
		ep.currentMsg = msg
	}
	ep.mu.Unlock()

	if firstChunk {
		ep.app.OnData(ep, msg)
	}

	if ev.Fin {
		msg.finish(ev.Payload)
		ep.mu.Lock()
		ep.currentMsg = nil
		ep.mu.Unlock()
		ep.stats.incMessagesRead()
		return
	}
	msg.push(ev.Payload)
}

func (ep *Endpoint) handleParserError(ev protocol.Event) {
	ep.mu.Lock()
	closing := !ep.closedAt.IsZero()
	ep.mu.Unlock()

	if closing || ev.Code == protocol.CloseProtocolError {
		ep.shutdownRead()
	}
	if !closing {
		ep.initiateClose(ev.Code, ev.Message)
	}
}

// OnWritable is the host's "socket is writable" callback.
func (ep *Endpoint) OnWritable() {
	ep.mu.Lock()
	closing := !ep.closedAt.IsZero()
	ep.mu.Unlock()

	now := ep.clock.Now()
	switch ep.wr.pump(ep.conn, closing, ep.stats, now) {
	case pumpArmed:
		// writeBuffer partially drained, or the next frame loaded; stay armed.
	case pumpIdle:
		if ep.hooks.DisarmWrite != nil {
			ep.hooks.DisarmWrite()
		}
	case pumpShutdownWrite:
		_ = ep.conn.CloseWrite()
		if ep.hooks.DisarmWrite != nil {
			ep.hooks.DisarmWrite()
		}
	case pumpTeardown:
		ep.handleTransportEOF()
	}
}

// onTick runs once a second: it enforces the close-handshake timeout,
// emits a heartbeat PING, and checks ping/pong liveness.
func (ep *Endpoint) onTick(now time.Time) {
	ep.mu.Lock()
	closedAt := ep.closedAt
	closeTimeout := ep.closeTimeout
	ep.mu.Unlock()

	if !closedAt.IsZero() {
		if !closeTimeout.IsZero() && now.After(closeTimeout) {
			ep.mu.Lock()
			ep.closeTimeout = time.Time{}
			ep.mu.Unlock()
			ep.unload()
		}
		return
	}

	if now.Sub(ep.stats.lastSent()) >= ep.cfg.HeartbeatPeriod {
		count := ep.stats.incPingCount()
		payload := make([]byte, 8)
		binary.BigEndian.PutUint64(payload, uint64(count))
		ep.enqueueFrame(payload, protocol.OpcodePing, true)
	}

	if ep.stats.pingPongGap() > int64(ep.cfg.QueuedPingLimit) {
		ep.initiateClose(protocol.CloseGoingAway, "ping/pong liveness check failed")
	}
}

// unload tears down read/write watchers, stops the ticker, fails any
// in-flight message and queued writes, and closes the socket. Runs exactly
// once per endpoint regardless of how many paths call it.
func (ep *Endpoint) unload() {
	ep.unloadOnce.Do(func() {
		if ep.hooks.DisarmRead != nil {
			ep.hooks.DisarmRead()
		}
		if ep.hooks.DisarmWrite != nil {
			ep.hooks.DisarmWrite()
		}
		ep.clock.Stop()

		ep.mu.Lock()
		msg := ep.currentMsg
		ep.currentMsg = nil
		ep.mu.Unlock()
		if msg != nil {
			msg.fail(api.ErrTransportClosed)
		}

		ep.wr.failAll(api.ErrTransportClosed)
		ep.readBuf.Release()

		_ = ep.conn.Close()
		close(ep.unloaded)
	})
}
