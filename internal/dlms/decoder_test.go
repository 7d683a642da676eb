// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dlms

import "testing"

// synthetic plaintext: one VoltageL1 (LongUnsigned, scaled) entry
// followed by one Timestamp (OctetString) entry, laid out exactly as
// the decoder's offset arithmetic expects.
func syntheticPlaintext() []byte {
	return []byte{
		0x0F, 0x00, 0x00, 0x00, 0x00, 0x0C, // envelope, sanity bytes
		0x09, 0x06, 0x01, 0x00, 0x20, 0x07, 0x00, 0xFF, // OBIS: electricity, C=32 D=7 (VoltageL1)
		0x12,       // LongUnsigned
		0x08, 0xFC, // value = 2300
		0x00, 0x00, // break
		0x0F, // scaler/unit trailer marker
		0xFF, // accuracy: single digit
		0x00, 0x00, 0x00, 0x00, // rest of trailer
		0x09, 0x06, 0x00, 0x00, 0x01, 0x00, 0x00, 0xFF, // OBIS: abstract, C=1 D=0 (Timestamp)
		0x09,       // OctetString
		0x08,       // length 8
		0x07, 0xEA, // year = 2026
		0x08,       // month
		0x03,       // day
		0x00,       // pad
		0x0C,       // hour
		0x1E,       // minute
		0x2D,       // second
	}
}

func TestWalkOBIS_VoltageAndTimestamp(t *testing.T) {
	plaintext := append(syntheticPlaintext(), make([]byte, 8)...) // trailer read-ahead slack
	data, err := walkOBIS(plaintext, 43)
	if err != nil {
		t.Fatalf("walkOBIS failed: %v", err)
	}
	if data.VoltageL1 != 230.0 {
		t.Fatalf("VoltageL1 = %v, want 230.0", data.VoltageL1)
	}
	if data.Timestamp != "2026-08-03T12:30:45Z" {
		t.Fatalf("Timestamp = %q, want 2026-08-03T12:30:45Z", data.Timestamp)
	}
}

func TestScaleByAccuracy(t *testing.T) {
	cases := []struct {
		raw  uint16
		acc  accuracy
		want float32
	}{
		{2300, accuracySingleDigit, 230.0},
		{23000, accuracyDoubleDigit, 230.0},
		{230, accuracy(0x00), 230.0},
	}
	for _, c := range cases {
		if got := scaleByAccuracy(c.raw, c.acc); got != c.want {
			t.Errorf("scaleByAccuracy(%d, %v) = %v, want %v", c.raw, c.acc, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	voltageL1 := [obisCodeLength]byte{1, 0, 32, 7, 0, 255}
	code, ok := classify(voltageL1)
	if !ok || code != codeVoltageL1 {
		t.Fatalf("classify(voltageL1) = (%v, %v), want (codeVoltageL1, true)", code, ok)
	}

	unknownMedium := [obisCodeLength]byte{9, 0, 0, 0, 0, 0}
	if _, ok := classify(unknownMedium); ok {
		t.Fatalf("expected classify to reject an unrecognized medium")
	}

	unknownPair := [obisCodeLength]byte{1, 0, 99, 99, 0, 0}
	code, ok = classify(unknownPair)
	if !ok || code != codeUnknown {
		t.Fatalf("classify(unknown electricity pair) = (%v, %v), want (codeUnknown, true)", code, ok)
	}
}

func TestDecoder_FeedFragmented_WaitsForAllMbusFrames(t *testing.T) {
	var received []MeterData
	d := NewDecoder(make([]byte, 16), true, func(m MeterData) {
		received = append(received, m)
	})

	// Feed a payload that is structurally incomplete (claims more
	// length than delivered): the decoder must keep accumulating
	// rather than erroring out.
	assembly := []byte{
		cipherGeneralGloCiphering, systitleLength,
		1, 2, 3, 4, 5, 6, 7, 8, // system title
		200, // length byte, far larger than what follows
		securitySuite,
		0, 0, 0, 1, // frame counter
		0xAA, 0xBB, 0xCC, // a few ciphertext bytes, not nearly enough
	}
	mbusPayload := append([]byte{0, 0, 0, 0, 0}, assembly...)
	d.Feed(mbusPayload)

	if len(received) != 0 {
		t.Fatalf("expected no callback before the declared length is satisfied")
	}
	if len(d.assembly) == 0 {
		t.Fatalf("expected the assembly to retain bytes while waiting for more data")
	}
}

func TestDecoder_UnsupportedCipher_Resets(t *testing.T) {
	var received []MeterData
	d := NewDecoder(make([]byte, 16), true, func(m MeterData) {
		received = append(received, m)
	})

	assembly := make([]byte, 25)
	assembly[0] = 0xAA // not general-glo-ciphering
	mbusPayload := append([]byte{0, 0, 0, 0, 0}, assembly...)
	d.Feed(mbusPayload)

	if len(received) != 0 {
		t.Fatalf("expected no callback for an unsupported cipher")
	}
	if len(d.assembly) != 0 {
		t.Fatalf("expected the assembly to be reset after a fatal header error")
	}
}
