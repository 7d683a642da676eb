// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the bridge's process configuration: the two
// serial links, the DLMS decryption key, the Modbus slave address,
// register-image persistence, logging, and optional measurement sinks.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level bridge configuration.
type Config struct {
	Key             string       `mapstructure:"key"` // hex-encoded 16-byte AES key
	ModbusAddress   byte         `mapstructure:"modbus_address"`
	FlipCurrentSign bool         `mapstructure:"flip_current_sign"`
	MbusSerial      SerialConfig `mapstructure:"mbus_serial"`
	ModbusSerial    SerialConfig `mapstructure:"modbus_serial"`
	Persistence     PersistenceConfig `mapstructure:"persistence"`
	Log             LogConfig    `mapstructure:"log"`
	Sinks           SinksConfig  `mapstructure:"sinks"`
}

// LogConfig defines logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // log file path, "-"/empty for stdout
}

// PersistenceConfig defines register-image snapshot storage.
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // file path for "file"/"mmap"
}

// SinksConfig names external sinks to forward decoded measurements to.
// Each populated field is a target identifier the process harness
// resolves to a concrete sink implementation; empty means unwired.
type SinksConfig struct {
	VoltageL1           string `mapstructure:"voltage_l1"`
	VoltageL2           string `mapstructure:"voltage_l2"`
	VoltageL3           string `mapstructure:"voltage_l3"`
	CurrentL1           string `mapstructure:"current_l1"`
	CurrentL2           string `mapstructure:"current_l2"`
	CurrentL3           string `mapstructure:"current_l3"`
	ActivePowerPlus     string `mapstructure:"active_power_plus"`
	ActivePowerMinus    string `mapstructure:"active_power_minus"`
	ActiveEnergyPlus    string `mapstructure:"active_energy_plus"`
	ActiveEnergyMinus   string `mapstructure:"active_energy_minus"`
	ReactiveEnergyPlus  string `mapstructure:"reactive_energy_plus"`
	ReactiveEnergyMinus string `mapstructure:"reactive_energy_minus"`
	Timestamp           string `mapstructure:"timestamp"`
	EnergyWindow        string `mapstructure:"energy_window"`
	LED                 string `mapstructure:"led"`
}

// SerialConfig defines one UART's settings.
type SerialConfig struct {
	Device    string        `mapstructure:"device"`
	BaudRate  int           `mapstructure:"baud_rate"`
	DataBits  int           `mapstructure:"data_bits"`
	Parity    string        `mapstructure:"parity"`
	StopBits  int           `mapstructure:"stop_bits"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RqstPause time.Duration `mapstructure:"rqst_pause"`

	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// DecodedKey decodes the hex-encoded AES key.
func (c *Config) DecodedKey() ([]byte, error) {
	key, err := hex.DecodeString(c.Key)
	if err != nil {
		return nil, fmt.Errorf("config: invalid key: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("config: key must decode to 16 bytes, got %d", len(key))
	}
	return key, nil
}

// BindFlags registers the command-line flags LoadConfig consults, in
// the gateway's own StringP/IntP/BoolP style. LoadConfig calls it
// itself; calling it a second time redefines the flags.
func BindFlags(v *viper.Viper) {
	pflag.StringP("mbus_device", "m", "/dev/ttyUSB0", "M-Bus serial device.")
	pflag.IntP("mbus_baud_rate", "b", 2400, "M-Bus serial baud rate.")
	pflag.StringP("modbus_device", "M", "/dev/ttyUSB1", "Modbus RTU serial device.")
	pflag.IntP("modbus_baud_rate", "B", 9600, "Modbus RTU serial baud rate.")
	pflag.Uint8P("modbus_address", "a", 240, "Modbus RTU slave address.")
	pflag.StringP("key", "k", "", "16-byte AES key, hex-encoded.")
	pflag.StringP("log_level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	pflag.StringP("log_file", "L", "", "Log file path ('-' or empty for stdout).")
	pflag.Parse()

	v.BindPFlag("mbus_serial.device", pflag.Lookup("mbus_device"))
	v.BindPFlag("mbus_serial.baud_rate", pflag.Lookup("mbus_baud_rate"))
	v.BindPFlag("modbus_serial.device", pflag.Lookup("modbus_device"))
	v.BindPFlag("modbus_serial.baud_rate", pflag.Lookup("modbus_baud_rate"))
	v.BindPFlag("modbus_address", pflag.Lookup("modbus_address"))
	v.BindPFlag("key", pflag.Lookup("key"))
	v.BindPFlag("log.level", pflag.Lookup("log_level"))
	v.BindPFlag("log.file", pflag.Lookup("log_file"))
}

// LoadConfig loads configuration from configFile, or from the
// conventional search path when configFile is empty. A missing config
// file is tolerated: all settings can also arrive via flags/defaults.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dlms-sunspec-bridge/")
		v.AddConfigPath("$HOME/.dlms-sunspec-bridge")
		v.AddConfigPath(".")
	}

	v.SetDefault("modbus_address", 240)
	v.SetDefault("flip_current_sign", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("persistence.type", "memory")
	v.SetDefault("mbus_serial.baud_rate", 2400)
	v.SetDefault("mbus_serial.data_bits", 8)
	v.SetDefault("mbus_serial.parity", "N")
	v.SetDefault("mbus_serial.stop_bits", 1)
	v.SetDefault("modbus_serial.baud_rate", 9600)
	v.SetDefault("modbus_serial.data_bits", 8)
	v.SetDefault("modbus_serial.parity", "N")
	v.SetDefault("modbus_serial.stop_bits", 1)

	BindFlags(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	fixupSerial(&config.MbusSerial)
	fixupSerial(&config.ModbusSerial)

	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.RqstPause == 0 {
		s.RqstPause = 100 * time.Millisecond
	}
}
