// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sunspec implements the in-memory register image of a SunSpec
// model 213 (3-phase float meter), addressable from Modbus base address
// 40000.
package sunspec

import (
	"encoding/binary"
	"math"
)

const (
	// RegisterOffset is the Modbus base address of register index 0.
	RegisterOffset = 40000

	registerCommonCount = 4 + 65
	registerMeterCount  = 2 + 124
	registerEndCount    = 2

	// RegisterTotalCount is the fixed size of the image.
	RegisterTotalCount = registerCommonCount + registerMeterCount + registerEndCount
)

// Image is the fixed 197-register SunSpec model 213 map. The common
// block, meter-model header, and end block are written once at
// construction and never mutated again.
type Image struct {
	registers [RegisterTotalCount]uint16
}

// NewImage constructs an Image with the common block, meter-model
// header, and end block populated; modbusAddress is mirrored into
// register 68 as SunSpec convention requires.
func NewImage(modbusAddress byte) *Image {
	img := &Image{}

	img.setUint32(0, 0x53756e53) // "SunS"
	img.setUint16(2, 0x0001)
	img.setUint16(3, registerCommonCount-4)

	img.setString(4, ":)")
	img.setString(20, "Ka")
	img.setString(21, "i2")
	img.setString(22, "Su")
	img.setString(23, "nM")
	img.setString(24, "od")
	img.setString(44, "V0")
	img.setString(45, ".1")
	img.setString(46, ".0")

	img.setUint16(68, uint16(modbusAddress))

	img.setUint16(69, 213)
	img.setUint16(70, registerMeterCount-2)

	img.setUint16(195, 0xFFFF)
	img.setUint16(196, 0)

	return img
}

func (img *Image) setUint16(index int, v uint16) {
	img.registers[index] = v
}

func (img *Image) setUint32(index int, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	img.registers[index] = binary.BigEndian.Uint16(b[0:2])
	img.registers[index+1] = binary.BigEndian.Uint16(b[2:4])
}

// setString packs exactly two ASCII bytes into one register.
func (img *Image) setString(index int, s string) {
	img.registers[index] = uint16(s[0])<<8 | uint16(s[1])
}

func (img *Image) registerBytes(index, count int) []byte {
	b := make([]byte, count*2)
	for i := 0; i < count; i++ {
		binary.BigEndian.PutUint16(b[i*2:], img.registers[index+i])
	}
	return b
}

func (img *Image) setFloat(index int, v float32) {
	bits := math.Float32bits(v)
	img.registers[index] = uint16(bits >> 16)
	img.registers[index+1] = uint16(bits)
}

func (img *Image) setFloats(baseIndex int, values ...float32) {
	for i, v := range values {
		img.setFloat(baseIndex+i*2, v)
	}
}

func (img *Image) SetAcCurrent(total, a, b, c float32)            { img.setFloats(71, total, a, b, c) }
func (img *Image) SetVoltageToNeutral(avg, a, b, c float32)       { img.setFloats(79, avg, a, b, c) }
func (img *Image) SetVoltagePhaseToPhase(avg, ab, bc, ca float32) { img.setFloats(87, avg, ab, bc, ca) }
func (img *Image) SetFrequency(f float32)                         { img.setFloats(95, f) }
func (img *Image) SetPower(total, a, b, c float32)                { img.setFloats(97, total, a, b, c) }
func (img *Image) SetApparentPower(total, a, b, c float32)        { img.setFloats(105, total, a, b, c) }
func (img *Image) SetReactivePower(total, a, b, c float32)        { img.setFloats(113, total, a, b, c) }
func (img *Image) SetPowerFactor(total, a, b, c float32)          { img.setFloats(121, total, a, b, c) }
func (img *Image) SetTotalWattHoursExported(total, a, b, c float32) {
	img.setFloats(129, total, a, b, c)
}
func (img *Image) SetTotalWattHoursImported(total, a, b, c float32) {
	img.setFloats(137, total, a, b, c)
}
func (img *Image) SetTotalVaHoursExported(total, a, b, c float32) {
	img.setFloats(145, total, a, b, c)
}
func (img *Image) SetTotalVaHoursImported(total, a, b, c float32) {
	img.setFloats(153, total, a, b, c)
}

// registerIndexForRange validates a Modbus-addressed range and returns
// its internal index, or -1 if the range is invalid.
func (img *Image) registerIndexForRange(address uint32, count byte) int {
	index := int(address) - RegisterOffset
	if count < 1 || index < 0 || index+int(count)-1 >= RegisterTotalCount {
		return -1
	}
	return index
}

// IsValidAddressRange reports whether the range is entirely within the
// image, without copying anything.
func (img *Image) IsValidAddressRange(address uint32, count byte) bool {
	return img.registerIndexForRange(address, count) >= 0
}

// GetRaw returns count*2 raw big-endian bytes starting at address, or
// (nil, false) when the range is invalid.
func (img *Image) GetRaw(address uint32, count byte) ([]byte, bool) {
	index := img.registerIndexForRange(address, count)
	if index < 0 {
		return nil, false
	}
	return img.registerBytes(index, int(count)), true
}

// Snapshot returns the raw byte image, suitable for persisting across
// restarts.
func (img *Image) Snapshot() []byte {
	return img.registerBytes(0, RegisterTotalCount)
}

// Restore overwrites the mutable region (everything after the common
// block and meter-model header, up to but excluding the end block) from
// a previously captured Snapshot. The common block, meter header, and
// end block are left as constructed, preserving the "never mutated
// after construction" invariant even across a restore.
func (img *Image) Restore(data []byte) {
	if len(data) != RegisterTotalCount*2 {
		return
	}
	const mutableStart = 71                                      // first meter data register (SetAcCurrent total)
	const mutableEnd = registerCommonCount + registerMeterCount // exclusive, before end block
	for i := mutableStart; i < mutableEnd; i++ {
		img.registers[i] = binary.BigEndian.Uint16(data[i*2:])
	}
}
