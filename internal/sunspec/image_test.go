// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sunspec

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
	"testing/quick"
)

func TestNewImage_CommonAndEndBlock(t *testing.T) {
	img := NewImage(240)

	if got := uint32(img.registers[0])<<16 | uint32(img.registers[1]); got != 0x53756e53 {
		t.Fatalf("magic = %x, want 0x53756e53", got)
	}
	if img.registers[2] != 1 {
		t.Fatalf("common block id = %d, want 1", img.registers[2])
	}
	if img.registers[3] != 65 {
		t.Fatalf("common block length = %d, want 65", img.registers[3])
	}
	if img.registers[68] != 240 {
		t.Fatalf("modbus address register = %d, want 240", img.registers[68])
	}
	if img.registers[69] != 213 {
		t.Fatalf("model id = %d, want 213", img.registers[69])
	}
	if img.registers[70] != 124 {
		t.Fatalf("meter block length = %d, want 124", img.registers[70])
	}
	if img.registers[195] != 0xFFFF || img.registers[196] != 0 {
		t.Fatalf("end block = %x/%x, want ffff/0", img.registers[195], img.registers[196])
	}
}

// TestFloatSettersRoundTripBigEndian is property P3: any float32 bit
// pattern written through SetFrequency reads back bit-for-bit
// identical through GetRaw. The other float setters share the same
// setFloat path and are not exercised here.
func TestFloatSettersRoundTripBigEndian(t *testing.T) {
	f := func(seed uint32) bool {
		r := rand.New(rand.NewSource(int64(seed)))
		v := math.Float32frombits(r.Uint32())

		img := NewImage(1)
		img.SetFrequency(v)
		raw, ok := img.GetRaw(RegisterOffset+95, 2)
		if !ok {
			return false
		}
		got := math.Float32frombits(binary.BigEndian.Uint32(raw))
		return math.Float32bits(got) == math.Float32bits(v)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

// TestGetRawBounds_FixedCases pins down the documented edge cases.
func TestGetRawBounds_FixedCases(t *testing.T) {
	img := NewImage(1)

	cases := []struct {
		addr  uint32
		count byte
		want  bool
	}{
		{RegisterOffset, 1, true},
		{RegisterOffset + 196, 1, true},
		{RegisterOffset + 196, 2, false}, // runs past the end
		{RegisterOffset - 1, 1, false},   // below base
		{RegisterOffset, 0, false},       // count < 1
		{RegisterOffset + 197, 1, false}, // exactly out of range
	}
	for _, c := range cases {
		_, ok := img.GetRaw(c.addr, c.count)
		if ok != c.want {
			t.Errorf("GetRaw(%d, %d) ok=%v, want %v", c.addr, c.count, ok, c.want)
		}
		if img.IsValidAddressRange(c.addr, c.count) != c.want {
			t.Errorf("IsValidAddressRange(%d, %d) = %v, want %v", c.addr, c.count, !c.want, c.want)
		}
	}
}

// TestGetRawBounds_Property is P4: for any address/count pair, GetRaw
// succeeds if and only if the requested range falls entirely within
// [RegisterOffset, RegisterOffset+RegisterTotalCount), and
// IsValidAddressRange always agrees with GetRaw's own verdict.
func TestGetRawBounds_Property(t *testing.T) {
	img := NewImage(1)

	f := func(seed uint32) bool {
		r := rand.New(rand.NewSource(int64(seed)))
		// Bias toward the boundary: addresses within a small window of
		// RegisterOffset and RegisterOffset+RegisterTotalCount, plus a
		// count that can run past either edge.
		addr := uint32(int64(RegisterOffset) + int64(r.Intn(RegisterTotalCount+20)) - 10)
		count := byte(r.Intn(10))

		index := int64(addr) - RegisterOffset
		want := count >= 1 && index >= 0 && index+int64(count)-1 < int64(RegisterTotalCount)

		_, ok := img.GetRaw(addr, count)
		if ok != want {
			return false
		}
		return img.IsValidAddressRange(addr, count) == want
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 1000}); err != nil {
		t.Error(err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	img := NewImage(1)
	img.SetPower(100, 33, 33, 34)
	snap := img.Snapshot()

	fresh := NewImage(1)
	fresh.Restore(snap)

	rawA, _ := img.GetRaw(RegisterOffset+97, 8)
	rawB, _ := fresh.GetRaw(RegisterOffset+97, 8)
	for i := range rawA {
		if rawA[i] != rawB[i] {
			t.Fatalf("restored image differs at byte %d", i)
		}
	}
}
