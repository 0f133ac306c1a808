package endpoint

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/wsendpoint/api"
	"github.com/momentics/wsendpoint/protocol"
)

// fakeConn is a minimal api.NetConn test double: reads are served from a
// queue of preloaded chunks, writes accumulate into a single byte stream,
// and writeLimit (when non-zero) forces partial writes to exercise mid-drain
// behavior.
type fakeConn struct {
	mu         sync.Mutex
	reads      [][]byte
	eof        bool
	out        bytes.Buffer
	writeLimit int

	closeReadCount  int32
	closeWriteCount int32
	closeCalls      int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func (c *fakeConn) queueRead(b []byte) {
	c.mu.Lock()
	c.reads = append(c.reads, b)
	c.mu.Unlock()
}

func (c *fakeConn) queueEOF() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	b := c.reads[0]
	c.reads = c.reads[1:]
	n := copy(p, b)
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(p)
	if c.writeLimit > 0 && c.writeLimit < n {
		n = c.writeLimit
	}
	c.out.Write(p[:n])
	return n, nil
}

func (c *fakeConn) CloseRead() error {
	atomic.AddInt32(&c.closeReadCount, 1)
	return nil
}

func (c *fakeConn) CloseWrite() error {
	atomic.AddInt32(&c.closeWriteCount, 1)
	return nil
}

func (c *fakeConn) Close() error {
	atomic.AddInt32(&c.closeCalls, 1)
	return nil
}

func (c *fakeConn) RawFD() uintptr { return 0 }

func (c *fakeConn) writtenBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.Bytes()...)
}

func (c *fakeConn) closeCount() int  { return int(atomic.LoadInt32(&c.closeCalls)) }
func (c *fakeConn) readClosed() bool { return atomic.LoadInt32(&c.closeReadCount) > 0 }

// fakeApp is a minimal api.Application test double. OnData drains msg.Chunks
// on its own goroutine, matching the contract real Applications must honor.
type fakeApp struct {
	mu           sync.Mutex
	onOpenHook   func()
	messages     []recordedMessage
	closeCalled  bool
	closeCode    uint16
	closeReason  string

	pending sync.WaitGroup
}

type recordedMessage struct {
	opcode byte
	chunks []api.Chunk
}

func (a *fakeApp) OnOpen(ep api.EndpointHandle, headers map[string][]string) {
	if a.onOpenHook != nil {
		a.onOpenHook()
	}
}

func (a *fakeApp) OnData(ep api.EndpointHandle, msg api.Message) {
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		rec := recordedMessage{opcode: msg.Opcode()}
		for c := range msg.Chunks() {
			rec.chunks = append(rec.chunks, c)
		}
		a.mu.Lock()
		a.messages = append(a.messages, rec)
		a.mu.Unlock()
	}()
}

func (a *fakeApp) OnClose(ep api.EndpointHandle, code uint16, reason string) {
	a.mu.Lock()
	a.closeCalled = true
	a.closeCode = code
	a.closeReason = reason
	a.mu.Unlock()
}

func (a *fakeApp) waitAll() { a.pending.Wait() }

func (a *fakeApp) messagesSnapshot() []recordedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedMessage(nil), a.messages...)
}

func (a *fakeApp) closeInfo() (uint16, string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeCode, a.closeReason, a.closeCalled
}

func testHeaders() map[string][]string {
	return map[string][]string{"Host": {"example.test"}}
}

// maskedFrame builds one masked RFC 6455 wire frame with a small (<=125
// byte) payload, the shape every test below needs to feed the parser.
func maskedFrame(fin bool, opcode byte, payload []byte) []byte {
	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	var b0 byte
	if fin {
		b0 = protocol.FinBit
	}
	b0 |= opcode
	frame := []byte{b0, byte(len(payload)) | protocol.MaskBit}
	frame = append(frame, key[:]...)
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	return append(frame, masked...)
}

type frameInfo struct {
	fin     bool
	opcode  byte
	payload []byte
}

// decodeFrames walks a concatenated byte stream of masked, small-payload
// frames, the inverse of maskedFrame, for asserting wire-level framing.
func decodeFrames(t *testing.T, data []byte) []frameInfo {
	t.Helper()
	var out []frameInfo
	for len(data) > 0 {
		b0, b1 := data[0], data[1]
		fin := b0&protocol.FinBit != 0
		opcode := b0 & 0x0F
		masked := b1&protocol.MaskBit != 0
		length := int(b1 &^ protocol.MaskBit)
		require.LessOrEqual(t, length, 125, "decodeFrames only handles small payloads")
		off := 2
		var key [4]byte
		if masked {
			copy(key[:], data[off:off+4])
			off += 4
		}
		payload := append([]byte(nil), data[off:off+length]...)
		if masked {
			for i := range payload {
				payload[i] ^= key[i%4]
			}
		}
		off += length
		out = append(out, frameInfo{fin: fin, opcode: opcode, payload: payload})
		data = data[off:]
	}
	return out
}

func drainWriter(ep *Endpoint) {
	for ep.wr.pending() {
		ep.OnWritable()
	}
}

func TestNewEndpoint_RequiresNonEmptyHeaders(t *testing.T) {
	_, err := NewEndpoint(newFakeConn(), "ep-1", "peer", &fakeApp{}, nil, Hooks{})
	require.Error(t, err)
}

func TestEndpoint_OnOpenRunsBeforeReadIsArmed(t *testing.T) {
	var order []string
	app := &fakeApp{onOpenHook: func() { order = append(order, "open") }}
	hooks := Hooks{ArmRead: func() { order = append(order, "armRead") }}

	ep, err := NewEndpoint(newFakeConn(), "ep-1", "peer", app, testHeaders(), hooks)
	require.NoError(t, err)
	defer ep.unload()

	require.Equal(t, []string{"open", "armRead"}, order)
}

func TestEndpoint_SendSmallMessageIsOneFinalFrame(t *testing.T) {
	conn := newFakeConn()
	ep, err := NewEndpoint(conn, "ep-1", "peer", &fakeApp{}, testHeaders(), Hooks{}, WithAutoFrameSize(100))
	require.NoError(t, err)
	defer ep.unload()

	data := []byte("hello world")
	ep.Send(data)
	drainWriter(ep)

	frames := decodeFrames(t, conn.writtenBytes())
	require.Len(t, frames, 1)
	require.True(t, frames[0].fin)
	require.Equal(t, protocol.OpcodeText, frames[0].opcode)
	require.Equal(t, data, frames[0].payload)
}

func TestEndpoint_SendSplitsLargeMessage(t *testing.T) {
	conn := newFakeConn()
	ep, err := NewEndpoint(conn, "ep-1", "peer", &fakeApp{}, testHeaders(), Hooks{}, WithAutoFrameSize(10))
	require.NoError(t, err)
	defer ep.unload()

	data := bytes.Repeat([]byte{'a'}, 25)
	ep.Send(data)
	drainWriter(ep)

	frames := decodeFrames(t, conn.writtenBytes())
	require.Len(t, frames, 3)

	require.Equal(t, protocol.OpcodeText, frames[0].opcode)
	require.False(t, frames[0].fin)
	require.Equal(t, protocol.OpcodeContinuation, frames[1].opcode)
	require.False(t, frames[1].fin)
	require.Equal(t, protocol.OpcodeContinuation, frames[2].opcode)
	require.True(t, frames[2].fin)

	for _, f := range frames {
		require.LessOrEqual(t, len(f.payload), 9)
	}

	var reassembled []byte
	for _, f := range frames {
		reassembled = append(reassembled, f.payload...)
	}
	require.Equal(t, data, reassembled)
}

func TestEndpoint_DeliversFragmentedMessageAsOneStream(t *testing.T) {
	conn := newFakeConn()
	app := &fakeApp{}
	ep, err := NewEndpoint(conn, "ep-1", "peer", app, testHeaders(), Hooks{})
	require.NoError(t, err)
	defer ep.unload()

	frameA := maskedFrame(false, protocol.OpcodeText, []byte("Hel"))
	frameB := maskedFrame(true, protocol.OpcodeContinuation, []byte("lo"))
	conn.queueRead(append(frameA, frameB...))
	ep.OnReadable()
	app.waitAll()

	msgs := app.messagesSnapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, protocol.OpcodeText, msgs[0].opcode)

	var got []byte
	for _, c := range msgs[0].chunks {
		got = append(got, c.Data...)
	}
	require.Equal(t, "Hello", string(got))
	require.True(t, msgs[0].chunks[len(msgs[0].chunks)-1].Fin)
}

func TestEndpoint_IllegalContinuationInitiatesProtocolErrorClose(t *testing.T) {
	conn := newFakeConn()
	app := &fakeApp{}
	ep, err := NewEndpoint(conn, "ep-1", "peer", app, testHeaders(), Hooks{})
	require.NoError(t, err)
	defer ep.unload()

	conn.queueRead(maskedFrame(true, protocol.OpcodeContinuation, []byte("x")))
	ep.OnReadable()

	require.True(t, conn.readClosed())
	code, _, called := app.closeInfo()
	require.True(t, called)
	require.Equal(t, protocol.CloseProtocolError, code)
}

func TestEndpoint_PeerInitiatedCloseIsAcknowledged(t *testing.T) {
	conn := newFakeConn()
	app := &fakeApp{}
	ep, err := NewEndpoint(conn, "ep-1", "peer", app, testHeaders(), Hooks{})
	require.NoError(t, err)
	defer ep.unload()

	body := protocol.EncodeCloseBody(protocol.CloseNormalClosure, "bye")
	conn.queueRead(maskedFrame(true, protocol.OpcodeClose, body))
	ep.OnReadable()

	require.True(t, conn.readClosed())
	code, reason, called := app.closeInfo()
	require.True(t, called)
	require.Equal(t, protocol.CloseNormalClosure, code)
	require.Equal(t, "bye", reason)

	require.True(t, ep.wr.pending())
	drainWriter(ep)
	frames := decodeFrames(t, conn.writtenBytes())
	require.Len(t, frames, 1)
	require.Equal(t, protocol.OpcodeClose, frames[0].opcode)
}

func TestEndpoint_TransportEOFUnloadsWithAbnormalClose(t *testing.T) {
	conn := newFakeConn()
	app := &fakeApp{}
	ep, err := NewEndpoint(conn, "ep-1", "peer", app, testHeaders(), Hooks{})
	require.NoError(t, err)

	conn.queueEOF()
	ep.OnReadable()

	select {
	case <-ep.Unloaded():
	default:
		t.Fatal("expected unload on transport EOF")
	}
	code, reason, called := app.closeInfo()
	require.True(t, called)
	require.Equal(t, protocol.CloseAbnormalClosure, code)
	require.Equal(t, "Client closed underlying TCP connection", reason)
	require.Equal(t, 1, conn.closeCount())
}

func TestEndpoint_UnloadRunsExactlyOnce(t *testing.T) {
	conn := newFakeConn()
	ep, err := NewEndpoint(conn, "ep-1", "peer", &fakeApp{}, testHeaders(), Hooks{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ep.unload()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, conn.closeCount())
}

func TestEndpoint_CloseHandshakeTimeoutForcesUnload(t *testing.T) {
	conn := newFakeConn()
	ep, err := NewEndpoint(conn, "ep-1", "peer", &fakeApp{}, testHeaders(), Hooks{}, WithClosePeriod(2*time.Second))
	require.NoError(t, err)

	ep.Close(protocol.CloseNormalClosure, "bye")

	select {
	case <-ep.Unloaded():
		t.Fatal("should not unload before the close timeout elapses")
	default:
	}

	ep.onTick(ep.clock.Now().Add(3 * time.Second))

	select {
	case <-ep.Unloaded():
	default:
		t.Fatal("expected forced unload once the close timeout elapses")
	}
}

func TestEndpoint_ControlFrameOvertakesQueuedDataFrame(t *testing.T) {
	conn := newFakeConn()
	conn.writeLimit = 1
	ep, err := NewEndpoint(conn, "ep-1", "peer", &fakeApp{}, testHeaders(), Hooks{}, WithAutoFrameSize(1<<20))
	require.NoError(t, err)
	defer ep.unload()

	bigData := bytes.Repeat([]byte{'d'}, 200)
	ep.SendBinary(bigData) // becomes the live writeBuffer, writer was idle

	ep.OnWritable() // drain exactly one byte: leaves writeBuffer mid-drain

	smallData := []byte("e-frame")
	ep.SendBinary(smallData) // writer busy: goes to the data queue

	ep.enqueueFrame([]byte{0, 0, 0, 0, 0, 0, 0, 7}, protocol.OpcodePing, true) // control queue

	drainWriter(ep)

	var events []protocol.Event
	p := protocol.NewParser(protocol.Config{
		ServerRole:    true,
		MaxFrameSize:  1 << 20,
		MaxMsgSize:    1 << 20,
		EmitThreshold: 1 << 20,
	}, func(e protocol.Event) { events = append(events, e) })
	p.Feed(conn.writtenBytes())

	require.Len(t, events, 3)
	require.Equal(t, protocol.EventData, events[0].Kind)
	require.Equal(t, bigData, events[0].Payload)
	require.Equal(t, protocol.EventControl, events[1].Kind)
	require.Equal(t, protocol.OpcodePing, events[1].Opcode)
	require.Equal(t, protocol.EventData, events[2].Kind)
	require.Equal(t, smallData, events[2].Payload)
}
