// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dlms

// DLMS header layout within the reassembled ciphered APDU:
//
//	offset 0          : cipher tag, must be 0xDB (general-glo-ciphering)
//	offset 1          : system-title length, must be 8
//	offset 2..9       : system title
//	offset 10         : length byte (X); if X == 0x82, two more bytes
//	                    (offset 11..12) hold the real length, big-endian
//	offset 11 (or 13) : security control byte, must be 0x21
//	offset 12 (or 14) : frame counter (4 bytes)
//	offset 16 (or 18) : ciphertext
//
// These offsets are not named in any surviving header from the
// original firmware (espdm_dlms.h was not available), so they are
// derived here from the arithmetic the decoder itself depends on:
// headerLength (16) is fixed by lengthCorrection (5 = security byte +
// frame counter) plus the bytes already counted in the declared
// length, and payloadOffset follows immediately after the frame
// counter.
const (
	cipherOffset = 0
	systOffset   = 1
	lengthOffset = 10

	headerExtOffset     = 2
	headerLength        = 16
	lengthCorrection    = 5
	secbyteOffset       = 11
	framecounterOffset  = 12
	framecounterLength  = 4
	payloadOffset       = 16

	cipherGeneralGloCiphering = 0xDB
	systitleLength            = 8
	securitySuite             = 0x21
	extendedLengthMarker      = 0x82
)

// OBIS header layout within decrypted plaintext, relative to the
// current walk position.
const (
	obisTypeOffset   = 0
	obisLengthOffset = 1
	obisCodeOffset   = 2
	obisCodeLength   = 6
)

// decoderStartOffset is where the OBIS walk begins within the
// decrypted plaintext. Bytes 0-5 are the Data-Notification envelope
// (invoke-id-and-priority, date-time placeholder, notification-body
// tag) validated separately as the plaintext sanity check
// (plaintext[0] == 0x0F, plaintext[5] == 0x0C); the first OBIS-tagged
// element starts immediately after, at byte 6.
const decoderStartOffset = 6

// Indices into the 6-byte OBIS code (A-B:C.D.E*F).
const (
	obisA = 0
	obisC = 2
)

// dataType tags, the A-XDR type identifiers DLMS uses to describe a
// value's wire encoding.
type dataType byte

const (
	typeDoubleLongUnsigned dataType = 0x06
	typeOctetString        dataType = 0x09
	typeLongUnsigned       dataType = 0x12
)

// accuracy is the scaler byte read five positions after a LongUnsigned
// value, expressing the value's implied decimal places.
type accuracy byte

const (
	accuracySingleDigit accuracy = 0xFF // scaler -1: divide by 10
	accuracyDoubleDigit accuracy = 0xFE // scaler -2: divide by 100
)

// medium is the OBIS group-A byte.
type medium byte

const (
	mediumAbstract    medium = 0
	mediumElectricity medium = 1
)

// codeType identifies what an OBIS (C,D) pair means.
type codeType int

const (
	codeUnknown codeType = iota
	codeVoltageL1
	codeVoltageL2
	codeVoltageL3
	codeCurrentL1
	codeCurrentL2
	codeCurrentL3
	codeActivePowerPlus
	codeActivePowerMinus
	codeActiveEnergyPlus
	codeActiveEnergyMinus
	codeReactiveEnergyPlus
	codeReactiveEnergyMinus
	codeTimestamp
	codeSerialNumber
	codeDeviceName
)

type obisPair struct {
	c, d byte
}

var electricityCodes = map[obisPair]codeType{
	{32, 7}: codeVoltageL1,
	{52, 7}: codeVoltageL2,
	{72, 7}: codeVoltageL3,
	{31, 7}: codeCurrentL1,
	{51, 7}: codeCurrentL2,
	{71, 7}: codeCurrentL3,
	{1, 7}:  codeActivePowerPlus,
	{2, 7}:  codeActivePowerMinus,
	{1, 8}:  codeActiveEnergyPlus,
	{2, 8}:  codeActiveEnergyMinus,
	{3, 8}:  codeReactiveEnergyPlus,
	{4, 8}:  codeReactiveEnergyMinus,
}

var abstractCodes = map[obisPair]codeType{
	{1, 0}:  codeTimestamp,
	{0, 0}:  codeSerialNumber,
	{42, 0}: codeDeviceName,
}

// classify dispatches an OBIS code's medium byte and (C,D) pair to a
// codeType, or codeUnknown if the medium is Abstract/Electricity but
// the (C,D) pair is not one this decoder understands. ok is false only
// when the medium itself is unrecognized (a fatal parse error).
func classify(obisCode [obisCodeLength]byte) (codeType, bool) {
	pair := obisPair{obisCode[obisC], obisCode[obisC+1]}
	switch medium(obisCode[obisA]) {
	case mediumElectricity:
		return electricityCodes[pair], true
	case mediumAbstract:
		return abstractCodes[pair], true
	default:
		return codeUnknown, false
	}
}
