// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import "github.com/ffutop/dlms-sunspec-bridge/internal/dlms"

// Sinks is the injected capability set of named measurement
// collaborators the source firmware reaches by macro
// (`id(voltage_l1)`). Every field is optional; a nil sink is simply
// not invoked. This replaces the source's process-wide mutable sensor
// references with an explicit, constructed-once struct.
type Sinks struct {
	VoltageL1 func(float64)
	VoltageL2 func(float64)
	VoltageL3 func(float64)

	CurrentL1 func(float64)
	CurrentL2 func(float64)
	CurrentL3 func(float64)

	ActivePowerPlus  func(float64)
	ActivePowerMinus func(float64)

	ActiveEnergyPlus  func(float64)
	ActiveEnergyMinus func(float64)

	ReactiveEnergyPlus  func(float64)
	ReactiveEnergyMinus func(float64)

	Timestamp func(string)

	// EnergyWindow receives the optional "energy-flow window" text
	// (e.g. "14:32 export"), or "--" whenever no time source is wired.
	EnergyWindow func(string)

	// LED receives the status-LED color transitions the Bridge
	// computes: LEDOff, LEDGreen for a clean decode, or LEDRed for a
	// fatal decode/decrypt/OBIS error.
	LED func(color LEDColor)
}

func (s *Sinks) publishFloat(sink func(float64), v float32) {
	if sink != nil {
		sink(float64(v))
	}
}

func (s *Sinks) publishString(sink func(string), v string) {
	if sink != nil {
		sink(v)
	}
}

// publish forwards every field of a decoded MeterData to its sink.
// Fields the Bridge does not also mirror into SunSpecImage (e.g.
// per-phase energies, which the meter never reports individually)
// are still forwarded here in their as-reported totals.
func (s *Sinks) publish(data dlms.MeterData) {
	s.publishFloat(s.VoltageL1, data.VoltageL1)
	s.publishFloat(s.VoltageL2, data.VoltageL2)
	s.publishFloat(s.VoltageL3, data.VoltageL3)
	s.publishFloat(s.CurrentL1, data.CurrentL1)
	s.publishFloat(s.CurrentL2, data.CurrentL2)
	s.publishFloat(s.CurrentL3, data.CurrentL3)
	s.publishFloat(s.ActivePowerPlus, data.ActivePowerPlus)
	s.publishFloat(s.ActivePowerMinus, data.ActivePowerMinus)
	s.publishFloat(s.ActiveEnergyPlus, data.ActiveEnergyPlus)
	s.publishFloat(s.ActiveEnergyMinus, data.ActiveEnergyMinus)
	s.publishFloat(s.ReactiveEnergyPlus, data.ReactiveEnergyPlus)
	s.publishFloat(s.ReactiveEnergyMinus, data.ReactiveEnergyMinus)
	s.publishString(s.Timestamp, data.Timestamp)
}

func (s *Sinks) setLED(color LEDColor) {
	if s.LED != nil {
		s.LED(color)
	}
}
