// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"testing"

	"github.com/ffutop/dlms-sunspec-bridge/iostream"
)

func echoResponse(startAddress uint16) ReadResponse {
	var resp ReadResponse
	resp.SetData([]byte{0x00, 0x2A, 0x00, 0x00}) // arbitrary 4-byte float payload
	return resp
}

func TestServer_IncompleteRequest_BufferRetained(t *testing.T) {
	var requests int
	s := NewServer(0x01, func(fc byte, r ReadRequest) ReadResponse {
		requests++
		return echoResponse(r.StartAddress)
	})

	src := iostream.NewBuffer([]byte{0x01, 0x03, 0x00, 0x02, 0x00, 0x01, 0x25})
	sink := iostream.NewBuffer(nil)
	s.Tick(src, sink)

	if requests != 0 {
		t.Fatalf("expected no dispatched requests, got %d", requests)
	}
	if len(sink.Written) != 0 {
		t.Fatalf("expected no response bytes, got %d", len(sink.Written))
	}
	if len(s.rxBuf) != 7 {
		t.Fatalf("expected all 7 bytes retained, got %d", len(s.rxBuf))
	}
}

func TestServer_IncompleteThenCompleted_ResponseSent(t *testing.T) {
	var requests int
	s := NewServer(0x01, func(fc byte, r ReadRequest) ReadResponse {
		requests++
		return echoResponse(r.StartAddress)
	})

	src := iostream.NewBuffer([]byte{0x01, 0x03, 0x00, 0x02, 0x00, 0x01, 0x25})
	sink := iostream.NewBuffer(nil)
	s.Tick(src, sink)

	src.Feed([]byte{0xca})
	s.Tick(src, sink)

	if requests != 1 {
		t.Fatalf("expected exactly one dispatched request, got %d", requests)
	}
	if len(sink.Written) != 9 {
		t.Fatalf("expected 9 response bytes, got %d", len(sink.Written))
	}
}

func TestServer_InvalidCrcThenValidRequest_BothFramesConsumed(t *testing.T) {
	var requests [][]byte
	s := NewServer(0x01, func(fc byte, r ReadRequest) ReadResponse {
		requests = append(requests, []byte{byte(r.StartAddress >> 8), byte(r.StartAddress)})
		return echoResponse(r.StartAddress)
	})

	badCrc := []byte{0x01, 0x03, 0x15, 0x12, 0x00, 0x01, 0x25, 0xff}
	valid := []byte{0x01, 0x03, 0x00, 0x02, 0x00, 0x01, 0x25, 0xca}

	var rx []byte
	rx = append(rx, badCrc...)
	rx = append(rx, valid...)
	rx = append(rx, badCrc...)
	rx = append(rx, valid...)

	src := iostream.NewBuffer(rx)
	sink := iostream.NewBuffer(nil)
	s.Tick(src, sink)

	if len(requests) != 2 {
		t.Fatalf("expected 2 dispatched requests, got %d", len(requests))
	}
	if !bytes.Equal(requests[0], requests[1]) {
		t.Fatalf("expected identical dispatched requests, got %x and %x", requests[0], requests[1])
	}
	if len(sink.Written) != 18 {
		t.Fatalf("expected 18 response bytes, got %d", len(sink.Written))
	}
}

func TestServer_InvalidFunctionCode_RespondsWithException(t *testing.T) {
	var requests int
	s := NewServer(0x01, func(fc byte, r ReadRequest) ReadResponse {
		requests++
		var resp ReadResponse
		if fc != 0x03 {
			resp.SetError(ErrIllegalFunction)
		}
		return resp
	})

	src := iostream.NewBuffer([]byte{0x01, 0x04, 0x00, 0x02, 0x00, 0x01, 0x90, 0x0a})
	sink := iostream.NewBuffer(nil)
	s.Tick(src, sink)

	if requests != 1 {
		t.Fatalf("expected 1 dispatched request, got %d", requests)
	}
	if len(sink.Written) != 5 {
		t.Fatalf("expected 5 response bytes, got %d", len(sink.Written))
	}
	if sink.Written[0] != 0x01 || sink.Written[1] != 0x84 || sink.Written[2] != byte(ErrIllegalFunction) {
		t.Fatalf("unexpected exception response: %x", sink.Written)
	}
}

func TestServer_UnrecognizedFunctionCode_ResyncsThenHandlesNextFrame(t *testing.T) {
	var requests int
	s := NewServer(0x01, func(fc byte, r ReadRequest) ReadResponse {
		requests++
		return echoResponse(r.StartAddress)
	})

	invalid := []byte{0x01, 0x07, 0x00, 0x02, 0x00, 0x01, 0x90, 0x0a}
	valid := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xc4, 0x0b}

	var rx []byte
	rx = append(rx, invalid...)
	rx = append(rx, valid...)

	src := iostream.NewBuffer(rx)
	sink := iostream.NewBuffer(nil)
	s.Tick(src, sink)

	if requests != 1 {
		t.Fatalf("expected exactly 1 dispatched request, got %d", requests)
	}
	if len(sink.Written) != 9 {
		t.Fatalf("expected 9 response bytes, got %d", len(sink.Written))
	}
}

func TestServer_ByteByByte_ResponseOk(t *testing.T) {
	var requests int
	s := NewServer(0x01, func(fc byte, r ReadRequest) ReadResponse {
		requests++
		var resp ReadResponse
		resp.SetData([]byte{0x00, 0x00, 0x00, 0x00})
		return resp
	})

	frame := []byte{0x01, 0x03, 0x00, 0x02, 0x00, 0x01, 0x25, 0xca}
	sink := iostream.NewBuffer(nil)

	for i, b := range frame {
		src := iostream.NewBuffer([]byte{b})
		s.Tick(src, sink)
		if i < len(frame)-1 {
			if len(sink.Written) != 0 {
				t.Fatalf("response sent before frame complete, at byte %d", i)
			}
		}
	}

	if requests != 1 {
		t.Fatalf("expected exactly 1 dispatched request, got %d", requests)
	}
	if len(sink.Written) != 9 {
		t.Fatalf("expected 9 response bytes, got %d", len(sink.Written))
	}
	if sink.Written[0] != 0x01 || sink.Written[1] != 0x03 || sink.Written[2] != 4 {
		t.Fatalf("unexpected response header: %x", sink.Written[:3])
	}
}

func TestServer_WrongAddress_NoResponse(t *testing.T) {
	var requests int
	s := NewServer(0x01, func(fc byte, r ReadRequest) ReadResponse {
		requests++
		return echoResponse(r.StartAddress)
	})

	src := iostream.NewBuffer([]byte{0x02, 0x03, 0x00, 0x02, 0x00, 0x01, 0x25, 0xf9})
	sink := iostream.NewBuffer(nil)
	s.Tick(src, sink)

	if requests != 0 {
		t.Fatalf("expected no dispatched requests for a foreign address, got %d", requests)
	}
	if len(sink.Written) != 0 {
		t.Fatalf("expected no response bytes, got %d", len(sink.Written))
	}
	if len(s.rxBuf) != 0 {
		t.Fatalf("expected the foreign frame fully consumed, got %d leftover bytes", len(s.rxBuf))
	}
}
