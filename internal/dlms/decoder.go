// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package dlms decodes general-glo-ciphered DLMS/COSEM APDUs carried
// in M-Bus payloads into flat MeterData snapshots.
package dlms

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

const (
	impossibleVoltageLimit = 300.0
	impossibleCurrentLimit = 32.0
	impossiblePowerLimit   = impossibleCurrentLimit * 230.0 * 3.0

	// originalCodeRemovedBytes is how many leading bytes of every
	// M-Bus payload belong to meter-internal framing this decoder
	// does not need (C | A | CI plus two more housekeeping bytes).
	originalCodeRemovedBytes = 5

	minPlausibleHeaderSize = 20
)

// OnMeterData is invoked once per fully decoded telegram.
type OnMeterData func(MeterData)

// OnDecodeError is invoked once per telegram abandoned for a fatal
// reason (header/cipher mismatch, decrypt failure, malformed OBIS
// tree). It is never called while a telegram is merely incomplete.
type OnDecodeError func(error)

// Decoder reassembles M-Bus payloads into ciphered DLMS APDUs,
// decrypts them, and walks their OBIS tree.
type Decoder struct {
	key []byte

	assembly []byte

	flipCurrentSign bool

	onData  OnMeterData
	onError OnDecodeError
}

// NewDecoder returns a Decoder keyed with a 16-byte AES key.
// flipCurrentSign reproduces the source firmware's default behavior
// of inverting phase currents when the meter reports net export.
func NewDecoder(key []byte, flipCurrentSign bool, onData OnMeterData) *Decoder {
	return &Decoder{key: key, flipCurrentSign: flipCurrentSign, onData: onData}
}

// OnError registers a callback invoked whenever a telegram is dropped
// for a fatal reason rather than merely awaiting more data.
func (d *Decoder) OnError(onError OnDecodeError) {
	d.onError = onError
}

// Feed appends one M-Bus payload to the DLMS assembly and attempts to
// parse it. It never blocks and never panics on malformed input.
func (d *Decoder) Feed(mbusPayload []byte) {
	if len(mbusPayload) <= originalCodeRemovedBytes {
		return
	}
	d.assembly = append(d.assembly, mbusPayload[originalCodeRemovedBytes:]...)
	d.tryParse()
}

func (d *Decoder) reset() {
	d.assembly = d.assembly[:0]
}

// fail resets the assembly and reports a fatal parse error.
func (d *Decoder) fail(err error) {
	d.reset()
	if d.onError != nil {
		d.onError(err)
	}
}

func (d *Decoder) tryParse() {
	if len(d.assembly) < minPlausibleHeaderSize {
		slog.Debug("dlms: payload too short so far", "size", len(d.assembly))
		return
	}

	if d.assembly[cipherOffset] != cipherGeneralGloCiphering {
		err := fmt.Errorf("dlms: unsupported cipher tag 0x%02x", d.assembly[cipherOffset])
		slog.Error(err.Error())
		d.fail(err)
		return
	}

	systitleLen := d.assembly[systOffset]
	if systitleLen != systitleLength {
		err := fmt.Errorf("dlms: unsupported system title length %d", systitleLen)
		slog.Error(err.Error())
		d.fail(err)
		return
	}

	lengthByte := d.assembly[lengthOffset]
	headerOffset := 0
	var messageLength int

	if lengthByte == extendedLengthMarker {
		if len(d.assembly) < lengthOffset+1+2 {
			return // wait for the extended length bytes themselves
		}
		messageLength = int(binary.BigEndian.Uint16(d.assembly[lengthOffset+1 : lengthOffset+3]))
		headerOffset = headerExtOffset
	} else {
		messageLength = int(lengthByte)
	}
	messageLength -= lengthCorrection

	have := len(d.assembly) - headerLength - headerOffset
	if have != messageLength {
		slog.Debug("dlms: frame has not enough data yet", "want", messageLength, "have", have)
		return // keep assembling; a multi-mbus-frame telegram is normal
	}
	if messageLength < 0 {
		err := fmt.Errorf("dlms: declared message length is implausible")
		slog.Error(err.Error())
		d.fail(err)
		return
	}

	secbyte := d.assembly[headerOffset+secbyteOffset]
	if secbyte != securitySuite {
		err := fmt.Errorf("dlms: unsupported security control byte 0x%02x", secbyte)
		slog.Error(err.Error())
		d.fail(err)
		return
	}

	systemTitle := d.assembly[systOffset+1 : systOffset+1+systitleLength]
	frameCounter := d.assembly[headerOffset+framecounterOffset : headerOffset+framecounterOffset+framecounterLength]
	ciphertext := d.assembly[headerOffset+payloadOffset : headerOffset+payloadOffset+messageLength]

	plaintext, err := decryptGCM(d.key, systemTitle, frameCounter, ciphertext)
	if err != nil {
		slog.Error("dlms: decryption failed", "err", err)
		d.fail(fmt.Errorf("dlms: decryption failed: %w", err))
		return
	}

	if len(plaintext) < 6 || plaintext[0] != 0x0F || plaintext[5] != 0x0C {
		err := fmt.Errorf("dlms: decrypted payload failed sanity check")
		slog.Error(err.Error())
		d.fail(err)
		return
	}

	// The OBIS walk may peek a few bytes past the last element's
	// declared length when checking for a trailing scaler/unit
	// structure on the final value; pad with harmless zero bytes so
	// that peek never runs past the slice.
	paddedPlaintext := append(plaintext, make([]byte, 8)...)

	data, err := walkOBIS(paddedPlaintext, messageLength)
	if err != nil {
		slog.Error("dlms: OBIS walk failed", "err", err)
		d.fail(fmt.Errorf("dlms: OBIS walk failed: %w", err))
		return
	}

	d.clampImplausibleValues(&data)
	if d.flipCurrentSign && data.ActivePowerPlus-data.ActivePowerMinus < 0 {
		data.CurrentL1 = -data.CurrentL1
		data.CurrentL2 = -data.CurrentL2
		data.CurrentL3 = -data.CurrentL3
	}

	d.reset()
	if d.onData != nil {
		d.onData(data)
	}
}

func (d *Decoder) clampImplausibleValues(data *MeterData) {
	clamp := func(name string, v *float32, limit float32) {
		if *v < 0 {
			if -*v > limit {
				slog.Error("dlms: implausible value, clamping to zero", "field", name, "value", *v)
				*v = 0
			}
			return
		}
		if *v > limit {
			slog.Error("dlms: implausible value, clamping to zero", "field", name, "value", *v)
			*v = 0
		}
	}
	clamp("voltageL1", &data.VoltageL1, impossibleVoltageLimit)
	clamp("voltageL2", &data.VoltageL2, impossibleVoltageLimit)
	clamp("voltageL3", &data.VoltageL3, impossibleVoltageLimit)
	clamp("currentL1", &data.CurrentL1, impossibleCurrentLimit)
	clamp("currentL2", &data.CurrentL2, impossibleCurrentLimit)
	clamp("currentL3", &data.CurrentL3, impossibleCurrentLimit)
	clamp("activePowerPlus", &data.ActivePowerPlus, impossiblePowerLimit)
	clamp("activePowerMinus", &data.ActivePowerMinus, impossiblePowerLimit)
}

// walkOBIS decodes the OBIS-tagged value tree of a DLMS plaintext
// payload, starting at decoderStartOffset, until currentPosition exceeds
// messageLength.
func walkOBIS(plaintext []byte, messageLength int) (MeterData, error) {
	var data MeterData
	currentPosition := decoderStartOffset

	for currentPosition <= messageLength {
		if currentPosition+obisCodeOffset+obisCodeLength > len(plaintext) {
			return data, fmt.Errorf("OBIS walk ran past the end of plaintext")
		}
		if dataType(plaintext[currentPosition+obisTypeOffset]) != typeOctetString {
			return data, fmt.Errorf("unsupported OBIS header type at %d", currentPosition)
		}
		obisCodeLen := plaintext[currentPosition+obisLengthOffset]
		if obisCodeLen != obisCodeLength {
			return data, fmt.Errorf("unsupported OBIS header length %d", obisCodeLen)
		}

		var obisCode [obisCodeLength]byte
		copy(obisCode[:], plaintext[currentPosition+obisCodeOffset:currentPosition+obisCodeOffset+obisCodeLength])

		currentPosition += obisCodeLength + 2 // past code, position and type marker

		code, ok := classify(obisCode)
		if !ok {
			return data, fmt.Errorf("unsupported OBIS medium %d", obisCode[obisA])
		}
		if code == codeUnknown {
			slog.Warn("unrecognized OBIS code, skipping value", "obis", obisCode)
		}

		if currentPosition >= len(plaintext) {
			return data, fmt.Errorf("OBIS walk ran past the end of plaintext")
		}
		valueType := dataType(plaintext[currentPosition])
		currentPosition++

		var dataLength int

		switch valueType {
		case typeDoubleLongUnsigned:
			dataLength = 4
			if currentPosition+4 > len(plaintext) {
				return data, fmt.Errorf("truncated DoubleLongUnsigned value")
			}
			value := float32(binary.BigEndian.Uint32(plaintext[currentPosition : currentPosition+4]))
			applyPower(&data, code, value)

		case typeLongUnsigned:
			dataLength = 2
			if currentPosition+6 > len(plaintext) {
				return data, fmt.Errorf("truncated LongUnsigned value")
			}
			raw := binary.BigEndian.Uint16(plaintext[currentPosition : currentPosition+2])
			value := scaleByAccuracy(raw, accuracy(plaintext[currentPosition+5]))
			applyVoltageOrCurrent(&data, code, value)

		case typeOctetString:
			if currentPosition >= len(plaintext) {
				return data, fmt.Errorf("truncated OctetString length byte")
			}
			dataLength = int(plaintext[currentPosition])
			currentPosition++
			if code == codeTimestamp {
				if currentPosition+8 <= len(plaintext) {
					data.Timestamp = decodeTimestamp(plaintext[currentPosition : currentPosition+8])
				}
			}

		default:
			return data, fmt.Errorf("unsupported OBIS data type 0x%02x", byte(valueType))
		}

		currentPosition += dataLength
		currentPosition += 2 // break after data

		if currentPosition < len(plaintext) && plaintext[currentPosition] == 0x0F {
			currentPosition += 6 // additional scaler/unit trailer
		}
	}

	return data, nil
}

func scaleByAccuracy(raw uint16, acc accuracy) float32 {
	switch acc {
	case accuracySingleDigit:
		return float32(raw) / 10.0
	case accuracyDoubleDigit:
		return float32(raw) / 100.0
	default:
		return float32(raw)
	}
}

func applyPower(data *MeterData, code codeType, value float32) {
	switch code {
	case codeActivePowerPlus:
		data.ActivePowerPlus = value
	case codeActivePowerMinus:
		data.ActivePowerMinus = value
	case codeActiveEnergyPlus:
		data.ActiveEnergyPlus = value
	case codeActiveEnergyMinus:
		data.ActiveEnergyMinus = value
	case codeReactiveEnergyPlus:
		data.ReactiveEnergyPlus = value
	case codeReactiveEnergyMinus:
		data.ReactiveEnergyMinus = value
	}
}

func applyVoltageOrCurrent(data *MeterData, code codeType, value float32) {
	switch code {
	case codeVoltageL1:
		data.VoltageL1 = value
	case codeVoltageL2:
		data.VoltageL2 = value
	case codeVoltageL3:
		data.VoltageL3 = value
	case codeCurrentL1:
		data.CurrentL1 = value
	case codeCurrentL2:
		data.CurrentL2 = value
	case codeCurrentL3:
		data.CurrentL3 = value
	}
}

func decodeTimestamp(b []byte) string {
	year := binary.BigEndian.Uint16(b[0:2])
	month, day := b[2], b[3]
	hour, minute, second := b[5], b[6], b[7]
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", year, month, day, hour, minute, second)
}
