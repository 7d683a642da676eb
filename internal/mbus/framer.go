// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mbus implements the M-Bus long-frame synchronizer and framer.
package mbus

import "log/slog"

// Frame layout (9-byte minimum):
//
//	offset 0        : 0x68          start
//	offset 1        : L             payload length
//	offset 2        : L             duplicated length
//	offset 3        : 0x68          start
//	offset 4..4+L-1 : payload       C | A | CI | user-data
//	offset 4+L      : checksum      sum(payload) mod 256
//	offset 5+L      : 0x16          stop
const (
	headerLength       = 4
	footerLength       = 2
	headerFooterLength = headerLength + footerLength
	fieldsLength       = 3
	minFrameLength     = headerFooterLength + fieldsLength

	start1Offset = 0
	length1Offset = 1
	length2Offset = 2
	start2Offset  = 3

	startValue = 0x68
	stopValue  = 0x16
)

// Framer consumes a byte stream and extracts complete M-Bus long-frame
// payloads. It owns a private append-only buffer and resynchronizes one
// byte at a time on any framing mismatch.
type Framer struct {
	buf     []byte
	resynced bool
}

// NewFramer returns a ready-to-use Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends one byte to the framer's internal buffer.
func (f *Framer) Push(b byte) {
	f.buf = append(f.buf, b)
}

// Pull attempts to extract the next complete payload. It returns the
// payload and true on success. It returns false when more data is
// required; the buffer is left intact in that case. On any byte-level
// mismatch the buffer advances by exactly one byte and the attempt is
// retried, so Pull may consume several leading garbage bytes internally
// before returning false (when the garbage runs out of candidate frames)
// or true (once resynchronized).
func (f *Framer) Pull() ([]byte, bool) {
	for len(f.buf) > 0 {
		removed, payload := f.parseFrame()
		if removed == 0 {
			return nil, false
		}
		f.buf = f.buf[removed:]
		if payload != nil {
			return payload, true
		}
		if !f.resynced {
			f.resynced = true
			slog.Warn("mbus: frame out of sync, resynchronizing")
		}
	}
	return nil, false
}

// parseFrame examines the buffer's head. It returns (0, nil) when more
// data is needed, (1, nil) to resync one byte forward, or
// (frameLength, payload) on a fully validated frame.
func (f *Framer) parseFrame() (int, []byte) {
	if len(f.buf) < minFrameLength {
		return 0, nil
	}
	if f.buf[start1Offset] != startValue || f.buf[start2Offset] != startValue {
		return 1, nil
	}
	payloadLength := int(f.buf[length1Offset])
	if int(f.buf[length2Offset]) != payloadLength {
		return 1, nil
	}
	frameLength := headerFooterLength + payloadLength
	if len(f.buf) < frameLength {
		return 0, nil
	}
	checksum := f.buf[headerLength+payloadLength]
	if f.buf[headerLength+payloadLength+1] != stopValue {
		return 1, nil
	}
	if checksumOf(f.buf[headerLength:headerLength+payloadLength]) != checksum {
		return 1, nil
	}

	payload := make([]byte, payloadLength)
	copy(payload, f.buf[headerLength:headerLength+payloadLength])
	return frameLength, payload
}

func checksumOf(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
