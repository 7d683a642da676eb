// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package iostream defines the minimal non-blocking byte-stream
// capability shared by every protocol engine in this module. It is the
// only environmental seam between the cooperative tick loop and the
// physical UARTs, which keeps the framers and servers pure-function
// testable without a real serial port.
package iostream

// ByteSource is a non-blocking byte-stream reader. Available reports
// whether at least one byte can be read without blocking; ReadByte
// returns false when nothing is available.
type ByteSource interface {
	Available() bool
	ReadByte() (byte, bool)
}

// ByteSink is a non-blocking byte-stream writer.
type ByteSink interface {
	Write(p []byte) error
	Flush() error
}

// Buffer is an in-memory ByteSource+ByteSink used by tests and by any
// component that needs to stage bytes without a physical UART.
type Buffer struct {
	rx      []byte
	rxPos   int
	Written []byte
}

// NewBuffer creates a Buffer pre-loaded with rx for ByteSource reads.
func NewBuffer(rx []byte) *Buffer {
	return &Buffer{rx: rx}
}

// Feed appends more bytes available for future ReadByte calls.
func (b *Buffer) Feed(data []byte) {
	b.rx = append(b.rx, data...)
}

func (b *Buffer) Available() bool {
	return b.rxPos < len(b.rx)
}

func (b *Buffer) ReadByte() (byte, bool) {
	if !b.Available() {
		return 0, false
	}
	c := b.rx[b.rxPos]
	b.rxPos++
	return c, true
}

func (b *Buffer) Write(p []byte) error {
	b.Written = append(b.Written, p...)
	return nil
}

func (b *Buffer) Flush() error {
	return nil
}
