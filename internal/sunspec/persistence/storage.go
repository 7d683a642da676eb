// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence persists the SunSpec register image across
// restarts so a bridge restart does not reset every meter reading to
// zero until the next DLMS telegram arrives.
package persistence

import "github.com/ffutop/dlms-sunspec-bridge/internal/sunspec"

// Storage loads and saves a sunspec.Image and is notified on every
// write so it can choose how aggressively to persist.
type Storage interface {
	// Load returns an Image to start from. If no prior state exists it
	// returns a freshly constructed Image.
	Load(modbusAddress byte) (*sunspec.Image, error)

	// Save persists the current image state.
	Save(img *sunspec.Image) error

	// OnWrite is a hook called whenever the bridge updates the image's
	// meter-data region, allowing real-time persistence strategies to
	// sync immediately rather than waiting for an explicit Save.
	OnWrite(img *sunspec.Image)
}
