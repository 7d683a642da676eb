// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// ReadRequest is a decoded "read holding registers" request.
type ReadRequest struct {
	StartAddress uint16
	AddressCount uint16
}
