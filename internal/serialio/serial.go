// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serialio adapts a physical UART to the iostream.ByteSource/
// ByteSink capability the protocol engines depend on, so the M-Bus and
// Modbus RTU sides of the bridge can each own a real serial port
// without either engine importing the serial driver directly.
package serialio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// Config describes one UART to open. It mirrors the shape the bridge's
// own configuration loader produces; RS485 fields are only meaningful
// when RS485 is true.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration

	RS485              bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	RxDuringTx         bool
}

// Port is a non-blocking iostream.ByteSource/ByteSink backed by a real
// serial port. Reads are opportunistic: Poll drains whatever the
// driver currently has buffered into an in-memory queue, and
// Available/ReadByte only consult that queue.
type Port struct {
	cfg Config

	mu   sync.Mutex
	port io.ReadWriteCloser

	rx    []byte
	rxPos int

	readBuf [256]byte
}

// Open connects the UART described by cfg. The port is held open for
// the lifetime of the Port; call Close to release it.
func Open(ctx context.Context, cfg Config) (*Port, error) {
	serialCfg := &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
		Timeout:  cfg.Timeout,
	}
	if cfg.RS485 {
		serialCfg.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p, err := serial.Open(serialCfg)
	if err != nil {
		return nil, fmt.Errorf("serialio: could not open %s: %w", cfg.Device, err)
	}
	return &Port{cfg: cfg, port: p}, nil
}

// Close releases the underlying serial port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// Poll drains whatever bytes the driver currently has buffered into
// Port's in-memory queue, without blocking. It should be called once
// per tick before Available/ReadByte are consulted.
func (p *Port) Poll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rxPos > 0 {
		p.rx = p.rx[p.rxPos:]
		p.rxPos = 0
	}
	if p.port == nil {
		return
	}
	for {
		n, err := p.port.Read(p.readBuf[:])
		if n > 0 {
			p.rx = append(p.rx, p.readBuf[:n]...)
		}
		if err != nil || n == 0 {
			return
		}
	}
}

func (p *Port) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxPos < len(p.rx)
}

func (p *Port) ReadByte() (byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rxPos >= len(p.rx) {
		return 0, false
	}
	c := p.rx[p.rxPos]
	p.rxPos++
	return c, true
}

func (p *Port) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return fmt.Errorf("serialio: port closed")
	}
	_, err := p.port.Write(data)
	return err
}

// Flush is a no-op: grid-x/serial writes are synchronous.
func (p *Port) Flush() error {
	return nil
}
