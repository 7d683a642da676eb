// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dlms

// sqrt3 converts a phase-to-neutral voltage into its phase-to-phase
// equivalent for a balanced three-phase system.
const sqrt3 = 1.732050808

// MeterData is an immutable snapshot of one fully decoded DLMS
// telegram.
type MeterData struct {
	VoltageL1 float32
	VoltageL2 float32
	VoltageL3 float32

	CurrentL1 float32
	CurrentL2 float32
	CurrentL3 float32

	ActivePowerPlus  float32
	ActivePowerMinus float32

	ActiveEnergyPlus  float32
	ActiveEnergyMinus float32

	ReactiveEnergyPlus  float32
	ReactiveEnergyMinus float32

	// Timestamp is the decoded "YYYY-MM-DDTHH:MM:SSZ" string, empty if
	// the telegram carried none.
	Timestamp string
}

// GetAverageVoltage averages whichever phase voltages are non-zero.
func (m MeterData) GetAverageVoltage() float32 {
	return averageNonZero(m.VoltageL1, m.VoltageL2, m.VoltageL3)
}

// ApparentPowerPerPhase returns the per-phase volt-amps (Scheinleistung).
func (m MeterData) ApparentPowerPerPhase() (l1, l2, l3 float32) {
	return m.VoltageL1 * m.CurrentL1, m.VoltageL2 * m.CurrentL2, m.VoltageL3 * m.CurrentL3
}

// GetApparentPower is the sum of per-phase volt-amps (Scheinleistung).
func (m MeterData) GetApparentPower() float32 {
	l1, l2, l3 := m.ApparentPowerPerPhase()
	return l1 + l2 + l3
}

// GetPowerFactor divides net active power by apparent power, defaulting
// to unity when apparent power is zero. Net active power is
// ActivePowerPlus minus ActivePowerMinus, not ActivePowerPlus alone,
// since a meter reporting net export still has a meaningful power
// factor on the import side.
func (m MeterData) GetPowerFactor() float32 {
	apparent := m.GetApparentPower()
	if apparent == 0 {
		return 1.0
	}
	pf := (m.ActivePowerPlus - m.ActivePowerMinus) / apparent
	if pf < 0 {
		pf = -pf
	}
	return pf
}

// ActivePowerPerPhase splits the apparent power of each phase by the
// telegram's overall power factor.
func (m MeterData) ActivePowerPerPhase() (l1, l2, l3 float32) {
	pf := m.GetPowerFactor()
	aL1, aL2, aL3 := m.ApparentPowerPerPhase()
	return aL1 * pf, aL2 * pf, aL3 * pf
}

// ReactivePowerPerPhase splits the apparent power of each phase by the
// complement of the telegram's overall power factor.
func (m MeterData) ReactivePowerPerPhase() (l1, l2, l3 float32) {
	pf := m.GetPowerFactor()
	aL1, aL2, aL3 := m.ApparentPowerPerPhase()
	return aL1 * (1 - pf), aL2 * (1 - pf), aL3 * (1 - pf)
}

// GetPhaseToPhaseVoltage converts a phase-to-neutral voltage to its
// phase-to-phase equivalent.
func GetPhaseToPhaseVoltage(voltage float32) float32 {
	return voltage * sqrt3
}

// PhaseToPhaseVoltages converts all three phase-to-neutral voltages to
// their phase-to-phase equivalents, plus the average of the non-zero
// ones.
func (m MeterData) PhaseToPhaseVoltages() (avg, l1, l2, l3 float32) {
	l1 = GetPhaseToPhaseVoltage(m.VoltageL1)
	l2 = GetPhaseToPhaseVoltage(m.VoltageL2)
	l3 = GetPhaseToPhaseVoltage(m.VoltageL3)
	return averageNonZero(l1, l2, l3), l1, l2, l3
}

// ActiveEnergyPerPhase splits the meter's total imported/exported
// active energy evenly across the three phases: the meter reports only
// the totals, never a per-phase breakdown.
func (m MeterData) ActiveEnergyPerPhase() (exported, imported float32) {
	return m.ActiveEnergyPlus / 3, m.ActiveEnergyMinus / 3
}

// ReactiveEnergyPerPhase splits the meter's total imported/exported
// reactive energy evenly across the three phases, for the same reason
// as ActiveEnergyPerPhase.
func (m MeterData) ReactiveEnergyPerPhase() (exported, imported float32) {
	return m.ReactiveEnergyPlus / 3, m.ReactiveEnergyMinus / 3
}

func averageNonZero(values ...float32) float32 {
	var sum float32
	var count int
	for _, v := range values {
		if v != 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float32(count)
}
