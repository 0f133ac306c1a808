// File: protocol/compiler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame compiler: serializes a logical send into a masked wire frame, with
// a pluggable builder pipeline where permessage-deflate or similar
// extensions would plug in.

package protocol

import (
	"encoding/binary"
	"math/rand"
)

// Transform is one stage of the compiler's builder pipeline: given a frame
// descriptor, it returns a (possibly transformed) descriptor. The default
// pipeline is the identity — no extension is specified here.
type Transform func(Descriptor) Descriptor

// Compiler serializes Descriptors into masked RFC 6455 wire frames.
type Compiler struct {
	pipeline []Transform
}

// NewCompiler constructs a Compiler with the given pipeline stages applied
// in order. With no stages, Compile is the identity transform over the wire
// format.
func NewCompiler(pipeline ...Transform) *Compiler {
	return &Compiler{pipeline: pipeline}
}

// Compile serializes a logical send (payload bytes, opcode, fin) into a
// fully masked wire frame.
func (c *Compiler) Compile(msg []byte, opcode byte, fin bool) []byte {
	d := Descriptor{Msg: msg, RSV: 0, Fin: fin, Opcode: opcode}
	for _, t := range c.pipeline {
		d = t(d)
	}
	return compileFrame(d)
}

// compileFrame performs the actual header + mask + payload serialization.
// The writer always produces masked frames (client-role semantics); a
// server-role build would flip this.
func compileFrame(d Descriptor) []byte {
	plen := len(d.Msg)

	var b0 byte
	if d.Fin {
		b0 = FinBit
	}
	b0 |= d.RSV & RSVBits
	b0 |= d.Opcode & 0x0F

	var hdr [10]byte
	var hdrLen int
	switch {
	case plen <= 125:
		hdr[0], hdr[1] = b0, byte(plen)|MaskBit
		hdrLen = 2
	case plen <= 0xFFFF:
		hdr[0], hdr[1] = b0, 126|MaskBit
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
		hdrLen = 4
	default:
		hdr[0], hdr[1] = b0, 127|MaskBit
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
		hdrLen = 10
	}

	var maskKey [4]byte
	binary.LittleEndian.PutUint32(maskKey[:], rand.Uint32())

	out := make([]byte, hdrLen+4+plen)
	copy(out, hdr[:hdrLen])
	copy(out[hdrLen:], maskKey[:])
	for i := 0; i < plen; i++ {
		out[hdrLen+4+i] = d.Msg[i] ^ maskKey[i%4]
	}
	return out
}

// EncodeCloseBody serializes a close code and UTF-8 reason into the wire
// payload layout: u16 code (network byte order) then reason bytes.
func EncodeCloseBody(code uint16, reason string) []byte {
	body := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(body, code)
	copy(body[2:], reason)
	return body
}

// DecodeCloseBody parses a close frame payload into its code and reason.
// The code is decoded as unsigned, matching RFC 6455.
func DecodeCloseBody(payload []byte) (code uint16, reason string, ok bool) {
	if len(payload) < 2 {
		return 0, "", false
	}
	return binary.BigEndian.Uint16(payload[:2]), string(payload[2:]), true
}
