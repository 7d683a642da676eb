// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ffutop/dlms-sunspec-bridge/internal/bridge"
	"github.com/ffutop/dlms-sunspec-bridge/internal/config"
	"github.com/ffutop/dlms-sunspec-bridge/internal/serialio"
	"github.com/ffutop/dlms-sunspec-bridge/internal/sunspec"
	"github.com/ffutop/dlms-sunspec-bridge/internal/sunspec/persistence"
)

// tickInterval matches the ~16ms cooperative scheduling rate the
// source firmware's ESPHome component loop was invoked at.
const tickInterval = 16 * time.Millisecond

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)
	slog.Info("Starting DLMS-SunSpec bridge...")

	key, err := cfg.DecodedKey()
	if err != nil {
		slog.Error("invalid AES key", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mbusPort, err := serialio.Open(ctx, serialio.Config{
		Device:   cfg.MbusSerial.Device,
		BaudRate: cfg.MbusSerial.BaudRate,
		DataBits: cfg.MbusSerial.DataBits,
		Parity:   cfg.MbusSerial.Parity,
		StopBits: cfg.MbusSerial.StopBits,
		Timeout:  cfg.MbusSerial.Timeout,
	})
	if err != nil {
		slog.Error("failed to open M-Bus serial port", "err", err)
		os.Exit(1)
	}
	defer mbusPort.Close()

	modbusPort, err := serialio.Open(ctx, serialio.Config{
		Device:             cfg.ModbusSerial.Device,
		BaudRate:           cfg.ModbusSerial.BaudRate,
		DataBits:           cfg.ModbusSerial.DataBits,
		Parity:             cfg.ModbusSerial.Parity,
		StopBits:           cfg.ModbusSerial.StopBits,
		Timeout:            cfg.ModbusSerial.Timeout,
		RS485:              cfg.ModbusSerial.RS485,
		DelayRtsBeforeSend: cfg.ModbusSerial.DelayRtsBeforeSend,
		DelayRtsAfterSend:  cfg.ModbusSerial.DelayRtsAfterSend,
		RtsHighDuringSend:  cfg.ModbusSerial.RtsHighDuringSend,
		RtsHighAfterSend:   cfg.ModbusSerial.RtsHighAfterSend,
		RxDuringTx:         cfg.ModbusSerial.RxDuringTx,
	})
	if err != nil {
		slog.Error("failed to open Modbus RTU serial port", "err", err)
		os.Exit(1)
	}
	defer modbusPort.Close()

	store := openPersistence(cfg.Persistence)
	image, err := store.Load(cfg.ModbusAddress)
	if err != nil {
		slog.Error("failed to load register image, starting fresh", "err", err)
		image = sunspec.NewImage(cfg.ModbusAddress)
	}

	b := bridge.New(key, cfg.ModbusAddress, cfg.FlipCurrentSign, image, buildSinks(cfg.Sinks))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			slog.Info("Shutting down...")
			cancel()
			if err := store.Save(image); err != nil {
				slog.Error("failed to save register image on shutdown", "err", err)
			}
			slog.Info("Goodbye.")
			return
		case <-ticker.C:
			mbusPort.Poll()
			modbusPort.Poll()
			b.Tick(mbusPort, modbusPort, modbusPort)
			store.OnWrite(image)
		}
	}
}

// buildSinks resolves the configured target identifiers into structured-
// log sinks, one per populated field. This replaces the source
// firmware's `id(voltage_l1)`-style global lookup: each configured
// target becomes a named slog field on a dedicated logger, in lieu of
// the MQTT/sensor registry the ESPHome original had available to it.
func buildSinks(cfg config.SinksConfig) bridge.Sinks {
	logSink := func(target string) func(float64) {
		if target == "" {
			return nil
		}
		return func(v float64) { slog.Info("measurement", "sink", target, "value", v) }
	}
	logStringSink := func(target string) func(string) {
		if target == "" {
			return nil
		}
		return func(v string) { slog.Info("measurement", "sink", target, "value", v) }
	}
	logLEDSink := func(target string) func(bridge.LEDColor) {
		if target == "" {
			return nil
		}
		return func(color bridge.LEDColor) {
			name := "off"
			switch color {
			case bridge.LEDGreen:
				name = "green"
			case bridge.LEDRed:
				name = "red"
			}
			slog.Info("measurement", "sink", target, "led", name)
		}
	}
	return bridge.Sinks{
		VoltageL1:           logSink(cfg.VoltageL1),
		VoltageL2:           logSink(cfg.VoltageL2),
		VoltageL3:           logSink(cfg.VoltageL3),
		CurrentL1:           logSink(cfg.CurrentL1),
		CurrentL2:           logSink(cfg.CurrentL2),
		CurrentL3:           logSink(cfg.CurrentL3),
		ActivePowerPlus:     logSink(cfg.ActivePowerPlus),
		ActivePowerMinus:    logSink(cfg.ActivePowerMinus),
		ActiveEnergyPlus:    logSink(cfg.ActiveEnergyPlus),
		ActiveEnergyMinus:   logSink(cfg.ActiveEnergyMinus),
		ReactiveEnergyPlus:  logSink(cfg.ReactiveEnergyPlus),
		ReactiveEnergyMinus: logSink(cfg.ReactiveEnergyMinus),
		Timestamp:           logStringSink(cfg.Timestamp),
		EnergyWindow:        logStringSink(cfg.EnergyWindow),
		LED:                 logLEDSink(cfg.LED),
	}
}

func openPersistence(cfg config.PersistenceConfig) persistence.Storage {
	switch cfg.Type {
	case "file":
		return persistence.NewFileStorage(cfg.Path)
	case "mmap":
		return persistence.NewMmapStorage(cfg.Path)
	default:
		return persistence.NewMemoryStorage()
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
