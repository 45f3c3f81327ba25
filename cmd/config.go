// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "~/.escstat.yaml"

// fileConfig holds flag defaults read from the config file
type fileConfig struct {
	Port       string `yaml:"port"`
	Baud       int    `yaml:"baud"`
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	CAN        string `yaml:"can"`
	CANID      *int   `yaml:"can_id"`
	Protocol   string `yaml:"protocol"`
	MotorCount *int   `yaml:"motor_count"`
	PoleCount  *int   `yaml:"pole_count"`
	HalfDuplex *bool  `yaml:"half_duplex"`
	RateHz     *int   `yaml:"rate_hz"`
}

// readConfigFile parses the config file at path. A missing file is only an
// error when required is set.
func readConfigFile(path string, required bool) (*fileConfig, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", expanded, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", expanded, err)
	}
	return &cfg, nil
}

// loadConfig fills every flag the user did not set from the config file
func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	required := path != ""
	if path == "" {
		path = defaultConfigFile
	}

	cfg, err := readConfigFile(path, required)
	if err != nil || cfg == nil {
		return err
	}

	applyConfig(cmd, cfg)
	return nil
}

func applyConfig(cmd *cobra.Command, cfg *fileConfig) {
	unset := func(name string) bool {
		return !cmd.Flags().Changed(name)
	}

	if cfg.Port != "" && unset("port") {
		portName = cfg.Port
	}
	if cfg.Baud != 0 && unset("baud") {
		baudRate = cfg.Baud
	}
	if cfg.URL != "" && unset("url") {
		wsURL = cfg.URL
	}
	if cfg.Username != "" && unset("username") {
		wsUsername = cfg.Username
	}
	if cfg.CAN != "" && unset("can") {
		canInterface = cfg.CAN
	}
	if cfg.CANID != nil && unset("can-id") {
		canID = *cfg.CANID
	}
	if cfg.Protocol != "" && unset("protocol") {
		protocolName = cfg.Protocol
	}
	if cfg.MotorCount != nil && unset("motors") {
		motorCount = *cfg.MotorCount
	}
	if cfg.PoleCount != nil && unset("poles") {
		poleCount = *cfg.PoleCount
	}
	if cfg.HalfDuplex != nil && unset("half-duplex") {
		halfDuplex = *cfg.HalfDuplex
	}
	if cfg.RateHz != nil && unset("rate") {
		rateHz = *cfg.RateHz
	}
}
