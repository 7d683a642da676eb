// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import "github.com/ffutop/dlms-sunspec-bridge/internal/sunspec"

// MemoryStorage is a no-op storage (non-persistent).
type MemoryStorage struct{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load(modbusAddress byte) (*sunspec.Image, error) {
	return sunspec.NewImage(modbusAddress), nil
}

func (ms *MemoryStorage) Save(img *sunspec.Image) error {
	return nil
}

func (ms *MemoryStorage) OnWrite(img *sunspec.Image) {
	// No-op
}
