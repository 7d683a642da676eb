// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// ReadResponse carries either a successful register dump or an
// exception code, to be framed by Payload once the slave address and
// function code are known.
type ReadResponse struct {
	errorCode ErrorCode
	data      []byte
}

// SetError marks the response as an exception.
func (r *ReadResponse) SetError(code ErrorCode) {
	r.errorCode = code
}

// IsError reports whether the response carries an exception code.
func (r *ReadResponse) IsError() bool {
	return r.errorCode != ErrNone
}

// SetData attaches the raw register bytes for a successful response.
func (r *ReadResponse) SetData(data []byte) {
	r.data = data
}

// Payload assembles the full response frame (without CRC): address,
// function code, byte count, and either the register data or, on
// error, the exception code with the function code's high bit set.
func (r *ReadResponse) Payload(address byte, functionCode byte) []byte {
	payload := make([]byte, 3+len(r.data))
	byteCount := byte(len(r.data))

	if r.IsError() {
		byteCount = byte(r.errorCode)
		functionCode |= 0x80
		payload = payload[:3]
	} else {
		copy(payload[3:], r.data)
	}

	payload[0] = address
	payload[1] = functionCode
	payload[2] = byteCount
	return payload
}
