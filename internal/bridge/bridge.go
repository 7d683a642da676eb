// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bridge wires the M-Bus/DLMS decode path to the SunSpec/
// Modbus serving path, computes the derived quantities the source
// firmware's downstream inverter expects, and drives the cooperative
// tick loop that is the only concurrency boundary in the process.
package bridge

import (
	"time"

	"github.com/ffutop/dlms-sunspec-bridge/internal/dlms"
	"github.com/ffutop/dlms-sunspec-bridge/internal/mbus"
	"github.com/ffutop/dlms-sunspec-bridge/internal/sunspec"
	"github.com/ffutop/dlms-sunspec-bridge/iostream"
	"github.com/ffutop/dlms-sunspec-bridge/modbus/rtu"
)

// fixedFrequencyHz is published unconditionally: the source firmware
// never measures grid frequency and assumes a fixed mains region.
const fixedFrequencyHz = 50.0

// Bridge orchestrates one MbusFramer+DlmsDecoder pipeline and one
// ModbusServer against a single shared SunSpecImage, plus an optional
// Sinks capability set and status-LED helper.
type Bridge struct {
	framer  *mbus.Framer
	decoder *dlms.Decoder
	server  *rtu.Server
	image   *sunspec.Image
	sinks   Sinks
	led     statusLED

	// timeSource optionally clocks the "energy-flow window" text. A
	// nil timeSource (the default) always publishes "--".
	timeSource func() (time.Time, bool)

	// activityThisTick and errorThisTick are set by the decoder's
	// callbacks during the M-Bus drain phase of Tick and consumed
	// immediately after, to drive the status LED's color.
	activityThisTick bool
	errorThisTick    bool
}

// New constructs a Bridge. key is the 16-byte AES key for the M-Bus
// side; slaveAddress is this bridge's single Modbus RTU address
// (defaulting, per the source firmware, to 240).
func New(key []byte, slaveAddress byte, flipCurrentSign bool, image *sunspec.Image, sinks Sinks) *Bridge {
	b := &Bridge{
		framer: mbus.NewFramer(),
		image:  image,
		sinks:  sinks,
	}
	b.decoder = dlms.NewDecoder(key, flipCurrentSign, b.onMeterData)
	b.decoder.OnError(b.onDecodeError)
	b.server = rtu.NewServer(slaveAddress, b.onModbusRequest)
	return b
}

// SetTimeSource wires an optional clock for the "energy-flow window"
// text. Tests and deployments without a trusted time source may leave
// this unset, in which case the window text is always "--".
func (b *Bridge) SetTimeSource(timeSource func() (time.Time, bool)) {
	b.timeSource = timeSource
}

// Tick runs exactly one cooperative scheduler step: it drains the
// M-Bus UART into the DLMS decoder, then drains and answers the
// Modbus UART from the SunSpecImage, updating the status LED to
// reflect whether this tick decoded a telegram (ok) or hit a fatal
// decode error.
func (b *Bridge) Tick(mbusSrc iostream.ByteSource, modbusSrc iostream.ByteSource, modbusSink iostream.ByteSink) {
	b.activityThisTick = false
	b.errorThisTick = false

	for mbusSrc.Available() {
		c, ok := mbusSrc.ReadByte()
		if !ok {
			break
		}
		b.framer.Push(c)
	}
	for {
		payload, ok := b.framer.Pull()
		if !ok {
			break
		}
		b.decoder.Feed(payload)
	}

	b.server.Tick(modbusSrc, modbusSink)

	if changed, color := b.led.tick(b.activityThisTick, b.errorThisTick); changed {
		b.sinks.setLED(color)
	}
}

func (b *Bridge) onMeterData(data dlms.MeterData) {
	b.activityThisTick = true
	b.applyMeterData(data)
}

func (b *Bridge) onDecodeError(err error) {
	b.activityThisTick = true
	b.errorThisTick = true
}

func (b *Bridge) onModbusRequest(functionCode byte, request rtu.ReadRequest) rtu.ReadResponse {
	var response rtu.ReadResponse
	if functionCode != 0x03 {
		response.SetError(rtu.ErrIllegalFunction)
		return response
	}
	address := sunspec.RegisterOffset + uint32(request.StartAddress)
	data, ok := b.image.GetRaw(address, byte(request.AddressCount))
	if !ok {
		response.SetError(rtu.ErrIllegalAddress)
		return response
	}
	response.SetData(data)
	return response
}

// applyMeterData computes every derived quantity specified for a
// decoded telegram — via MeterData's own accessors, so this is the
// only place that formula lives — and writes both the raw and derived
// fields into the SunSpecImage, then forwards the raw fields to Sinks.
func (b *Bridge) applyMeterData(data dlms.MeterData) {
	avgVoltage := data.GetAverageVoltage()

	apparentTotal := data.GetApparentPower()
	apparentL1, apparentL2, apparentL3 := data.ApparentPowerPerPhase()

	powerFactor := data.GetPowerFactor()
	activeTotal := apparentTotal * powerFactor
	activeL1, activeL2, activeL3 := data.ActivePowerPerPhase()

	reactiveTotal := apparentTotal * (1 - powerFactor)
	reactiveL1, reactiveL2, reactiveL3 := data.ReactivePowerPerPhase()

	p2pAvg, p2pL1, p2pL2, p2pL3 := data.PhaseToPhaseVoltages()

	activeEnergyExported, activeEnergyImported := data.ActiveEnergyPerPhase()
	reactiveEnergyExported, reactiveEnergyImported := data.ReactiveEnergyPerPhase()

	b.image.SetAcCurrent(data.CurrentL1+data.CurrentL2+data.CurrentL3, data.CurrentL1, data.CurrentL2, data.CurrentL3)
	b.image.SetVoltageToNeutral(avgVoltage, data.VoltageL1, data.VoltageL2, data.VoltageL3)
	b.image.SetVoltagePhaseToPhase(p2pAvg, p2pL1, p2pL2, p2pL3)
	b.image.SetFrequency(fixedFrequencyHz)
	b.image.SetPower(activeTotal, activeL1, activeL2, activeL3)
	b.image.SetApparentPower(apparentTotal, apparentL1, apparentL2, apparentL3)
	b.image.SetReactivePower(reactiveTotal, reactiveL1, reactiveL2, reactiveL3)
	b.image.SetPowerFactor(powerFactor, powerFactor, powerFactor, powerFactor)
	b.image.SetTotalWattHoursExported(data.ActiveEnergyPlus, activeEnergyExported, activeEnergyExported, activeEnergyExported)
	b.image.SetTotalWattHoursImported(data.ActiveEnergyMinus, activeEnergyImported, activeEnergyImported, activeEnergyImported)
	b.image.SetTotalVaHoursExported(data.ReactiveEnergyPlus, reactiveEnergyExported, reactiveEnergyExported, reactiveEnergyExported)
	b.image.SetTotalVaHoursImported(data.ReactiveEnergyMinus, reactiveEnergyImported, reactiveEnergyImported, reactiveEnergyImported)

	b.sinks.publish(data)
	b.sinks.publishString(b.sinks.EnergyWindow, b.energyWindowText(data.ActivePowerPlus-data.ActivePowerMinus))
}

// energyWindowText renders the optional "energy-flow window" display
// string: a clock reading paired with the instantaneous flow direction,
// or "--" whenever no time source is wired or it reports unsynced.
func (b *Bridge) energyWindowText(netActive float32) string {
	if b.timeSource == nil {
		return "--"
	}
	now, ok := b.timeSource()
	if !ok {
		return "--"
	}
	direction := "idle"
	switch {
	case netActive > 0:
		direction = "export"
	case netActive < 0:
		direction = "import"
	}
	return now.Format("15:04") + " " + direction
}
