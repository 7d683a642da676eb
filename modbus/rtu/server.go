// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"log/slog"

	"github.com/ffutop/dlms-sunspec-bridge/iostream"
	"github.com/ffutop/dlms-sunspec-bridge/modbus/crc"
)

// OnReceiveRequest is invoked once per dispatched request; the
// function code is passed through even when it will be rejected, so
// the handler can decide what exception (if any) applies.
type OnReceiveRequest func(functionCode byte, request ReadRequest) ReadResponse

// Server is a single-address Modbus RTU slave. It owns a private
// receive buffer and is driven by repeated Tick calls; it never
// blocks and never spawns goroutines.
type Server struct {
	address byte
	onRecv  OnReceiveRequest
	rxBuf   []byte
}

// NewServer returns a Server answering only for slaveAddress.
func NewServer(slaveAddress byte, onRecv OnReceiveRequest) *Server {
	return &Server{address: slaveAddress, onRecv: onRecv}
}

// Tick drains every available byte from src into the receive buffer,
// then parses and dispatches as many complete frames as the buffer
// holds, writing any response to sink. It is safe to call on every
// cooperative scheduler tick.
func (s *Server) Tick(src iostream.ByteSource, sink iostream.ByteSink) {
	for src.Available() {
		b, ok := src.ReadByte()
		if !ok {
			break
		}
		s.rxBuf = append(s.rxBuf, b)
	}

	for len(s.rxBuf) > 0 {
		consumed := s.parseFrame(sink)
		if consumed == 0 {
			break
		}
		s.rxBuf = s.rxBuf[consumed:]
	}
}

// parseFrame examines the buffer's head. It returns 0 when more data
// is needed, 1 to resync past an unrecognized byte, or the full frame
// size once a frame (valid or not) has been consumed.
func (s *Server) parseFrame(sink iostream.ByteSink) int {
	const needMoreData = 0
	const resyncOneByte = 1

	if len(s.rxBuf) < 2 {
		return needMoreData
	}

	address := s.rxBuf[0]
	functionCode := s.rxBuf[1]
	frameSize := recognizedFrameSize(functionCode)
	if frameSize == 0 {
		slog.Warn("modbus/rtu: unsupported or invalid function code", "functionCode", functionCode)
		return resyncOneByte
	}
	if len(s.rxBuf) < frameSize {
		return needMoreData
	}

	var c crc.CRC
	c.Reset().PushBytes(s.rxBuf[:frameSize-2])
	computed := c.Value()
	remote := uint16(s.rxBuf[frameSize-2]) | uint16(s.rxBuf[frameSize-1])<<8
	if computed != remote {
		slog.Warn("modbus/rtu: invalid CRC")
		return resyncOneByte
	}

	if address == s.address {
		request := ReadRequest{
			StartAddress: uint16(s.rxBuf[2])<<8 | uint16(s.rxBuf[3]),
			AddressCount: uint16(s.rxBuf[4])<<8 | uint16(s.rxBuf[5]),
		}
		response := s.onRecv(functionCode, request)
		s.send(sink, response.Payload(s.address, functionCode))
	}

	return frameSize
}

// send appends the CRC-16 and writes the frame to sink.
func (s *Server) send(sink iostream.ByteSink, payload []byte) {
	if len(payload) == 0 {
		return
	}
	var c crc.CRC
	c.Reset().PushBytes(payload)
	value := c.Value()

	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, payload...)
	frame = append(frame, byte(value), byte(value>>8))

	if err := sink.Write(frame); err != nil {
		slog.Error("modbus/rtu: write failed", "err", err)
		return
	}
	if err := sink.Flush(); err != nil {
		slog.Error("modbus/rtu: flush failed", "err", err)
	}
}
