// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbus

import (
	"bytes"
	"math/rand"
	"testing"
	"testing/quick"
)

func TestFramer_SingleFrame(t *testing.T) {
	frame := []byte{0x68, 0x03, 0x03, 0x68, 0x53, 0x01, 0xBB, 0x0F, 0x16}
	f := NewFramer()
	for _, b := range frame {
		f.Push(b)
	}

	payload, ok := f.Pull()
	if !ok {
		t.Fatalf("expected a payload")
	}
	want := []byte{0x53, 0x01, 0xBB}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = %x, want %x", payload, want)
	}
	if _, ok := f.Pull(); ok {
		t.Fatalf("expected no second payload")
	}
}

// TestFramer_ByteByByte exercises P5: feeding a valid long frame byte by
// byte yields exactly one payload whose checksum matches sum(payload)%256.
func TestFramer_ByteByByte(t *testing.T) {
	frame := []byte{0x68, 0x03, 0x03, 0x68, 0x53, 0x01, 0xBB, 0x0F, 0x16}
	f := NewFramer()
	var got []byte
	count := 0
	for _, b := range frame {
		f.Push(b)
		if payload, ok := f.Pull(); ok {
			got = payload
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one payload, got %d", count)
	}
	var sum byte
	for _, b := range got {
		sum += b
	}
	if sum != 0x0F {
		t.Fatalf("checksum mismatch: sum=%x, want 0x0F", sum)
	}
}

func TestFramer_ResyncOnGarbagePrefix(t *testing.T) {
	frame := []byte{0x68, 0x03, 0x03, 0x68, 0x53, 0x01, 0xBB, 0x0F, 0x16}
	garbage := []byte{0xAA, 0xBB, 0x68, 0x00}
	f := NewFramer()
	for _, b := range append(garbage, frame...) {
		f.Push(b)
	}
	payload, ok := f.Pull()
	if !ok {
		t.Fatalf("expected resync to find the embedded frame")
	}
	if !bytes.Equal(payload, []byte{0x53, 0x01, 0xBB}) {
		t.Fatalf("payload = %x", payload)
	}
}

func TestFramer_BadChecksumResyncsOneByte(t *testing.T) {
	// Corrupt checksum byte; the framer should refuse this candidate and
	// advance one byte without losing the ability to find a frame later
	// if one exists starting one byte in.
	frame := []byte{0x68, 0x03, 0x03, 0x68, 0x53, 0x01, 0xBB, 0xFF, 0x16}
	f := NewFramer()
	for _, b := range frame {
		f.Push(b)
	}
	if _, ok := f.Pull(); ok {
		t.Fatalf("expected no payload from a corrupted frame")
	}
}

// TestFramer_Property_ResyncOverAnyGarbagePrefixLength is the M-Bus
// counterpart of P2 (which is stated for Modbus frames): a valid long
// frame preceded by any 0..64 bytes of random garbage is always found
// and extracted, regardless of what the garbage bytes are.
func TestFramer_Property_ResyncOverAnyGarbagePrefixLength(t *testing.T) {
	frame := []byte{0x68, 0x03, 0x03, 0x68, 0x53, 0x01, 0xBB, 0x0F, 0x16}
	want := []byte{0x53, 0x01, 0xBB}

	f := func(seed uint32) bool {
		r := rand.New(rand.NewSource(int64(seed)))
		garbage := make([]byte, r.Intn(65)) // 0..64
		r.Read(garbage)

		fr := NewFramer()
		for _, b := range append(garbage, frame...) {
			fr.Push(b)
		}
		payload, ok := fr.Pull()
		return ok && bytes.Equal(payload, want)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 300}); err != nil {
		t.Error(err)
	}
}

func TestFramer_WaitsForMoreData(t *testing.T) {
	frame := []byte{0x68, 0x03, 0x03, 0x68, 0x53, 0x01, 0xBB, 0x0F, 0x16}
	f := NewFramer()
	for _, b := range frame[:6] {
		f.Push(b)
	}
	if _, ok := f.Pull(); ok {
		t.Fatalf("expected no payload before the frame is complete")
	}
	for _, b := range frame[6:] {
		f.Push(b)
	}
	if _, ok := f.Pull(); !ok {
		t.Fatalf("expected a payload once the frame completed")
	}
}
