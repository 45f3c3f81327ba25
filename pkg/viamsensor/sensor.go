// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package viamsensor exposes ESC telemetry as a Viam sensor component
package viamsensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var (
	EscTelemetry = resource.NewModel("thermoquad", "escstat", "esc-telemetry")
)

func init() {
	resource.RegisterComponent(sensor.API, EscTelemetry,
		resource.Registration[sensor.Sensor, *Config]{
			Constructor: newEscTelemetrySensor,
		},
	)
}

// Config holds the component attributes. The component only listens on the
// port; KISS ESCs answer a telemetry request raised on the motor signal, so
// kiss requires external_requests to confirm a flight controller raises it.
type Config struct {
	Port             string `json:"port"`
	Baud             int    `json:"baud,omitempty"`
	Protocol         string `json:"protocol"`
	MotorCount       int    `json:"motor_count,omitempty"`
	PoleCount        int    `json:"pole_count,omitempty"`
	HalfDuplex       bool   `json:"half_duplex,omitempty"`
	RateHz           int    `json:"rate_hz,omitempty"`
	ExternalRequests bool   `json:"external_requests,omitempty"`
}

func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "port")
	}
	if _, err := cfg.TelemetryConfig(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return nil, nil, nil
}

// TelemetryConfig converts the attributes into a decoder configuration,
// filling unset values with defaults
func (cfg *Config) TelemetryConfig() (escsensor.Config, error) {
	tc := escsensor.DefaultConfig()

	protocol, err := escsensor.ParseProtocol(cfg.Protocol)
	if err != nil {
		return tc, err
	}
	if protocol == escsensor.ProtocolNone {
		return tc, fmt.Errorf("protocol is required (kiss or hobbywing_v4)")
	}
	if protocol == escsensor.ProtocolKiss && !cfg.ExternalRequests {
		return tc, fmt.Errorf("kiss needs a flight controller to request telemetry; set external_requests once it does")
	}
	tc.Protocol = protocol
	tc.HalfDuplex = cfg.HalfDuplex
	if cfg.MotorCount != 0 {
		tc.MotorCount = cfg.MotorCount
	}
	if cfg.PoleCount != 0 {
		tc.PoleCount = cfg.PoleCount
	}
	if cfg.RateHz != 0 {
		tc.RateHz = cfg.RateHz
	}
	return tc, tc.Validate()
}

func (cfg *Config) baudRate(p escsensor.Protocol) int {
	if cfg.Baud != 0 {
		return cfg.Baud
	}
	return p.BaudRate()
}

// openPort opens the sensor port; replaced in tests
var openPort = func(name string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

type escTelemetrySensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config

	telemetry *escsensor.Telemetry
	port      io.ReadCloser

	cancelFunc func()
	workers    sync.WaitGroup
}

func newEscTelemetrySensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewEscTelemetrySensor(ctx, rawConf.ResourceName(), conf, logger)
}

// NewEscTelemetrySensor opens the configured port and starts decoding
func NewEscTelemetrySensor(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (sensor.Sensor, error) {
	tc, err := conf.TelemetryConfig()
	if err != nil {
		return nil, err
	}

	port, err := openPort(conf.Port, conf.baudRate(tc.Protocol))
	if err != nil {
		return nil, err
	}

	return newWithPort(name, conf, tc, port, logger)
}

func newWithPort(name resource.Name, conf *Config, tc escsensor.Config, port io.ReadCloser, logger logging.Logger) (*escTelemetrySensor, error) {
	telemetry, err := escsensor.New(tc, nil, logger)
	if err != nil {
		port.Close()
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	s := &escTelemetrySensor{
		name:       name,
		logger:     logger,
		cfg:        conf,
		telemetry:  telemetry,
		port:       port,
		cancelFunc: cancelFunc,
	}

	s.workers.Add(2)
	go func() {
		defer s.workers.Done()
		if err := telemetry.Pump(cancelCtx, port); err != nil && cancelCtx.Err() == nil {
			logger.Warnf("ESC telemetry port read failed: %v", err)
		}
	}()
	go func() {
		defer s.workers.Done()
		telemetry.Run(cancelCtx)
	}()

	return s, nil
}

func (s *escTelemetrySensor) Name() resource.Name {
	return s.name
}

func (s *escTelemetrySensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	t := s.telemetry
	out := map[string]interface{}{
		"protocol": t.Protocol().String(),
	}

	combined, err := t.Combined()
	if err != nil {
		return nil, err
	}
	addReading(out, "", combined, t.Config().PoleCount)
	out["valid"] = t.CombinedValid()

	for m := 0; m < t.Config().MotorCount; m++ {
		r, err := t.Reading(m)
		if err != nil {
			if errors.Is(err, escsensor.ErrNoData) {
				continue
			}
			return nil, err
		}
		prefix := fmt.Sprintf("motor_%d_", m)
		addReading(out, prefix, r, t.Config().PoleCount)
		out[prefix+"valid"] = t.Valid(m)
	}

	out["timeouts"] = t.Timeouts()
	out["crc_errors"] = t.CRCErrors()
	return out, nil
}

func addReading(out map[string]interface{}, prefix string, r escsensor.Reading, poles int) {
	out[prefix+"age"] = int(r.Age)
	out[prefix+"temperature"] = int(r.Temperature)
	out[prefix+"voltage"] = r.VoltageVolts()
	out[prefix+"current"] = r.CurrentAmps()
	out[prefix+"consumption"] = int(r.Consumption)
	out[prefix+"erpm"] = r.ERPM()
	out[prefix+"rpm"] = escsensor.MechanicalRPM(int(r.RPM), poles)
}

func (s *escTelemetrySensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, _ := cmd["command"].(string)
	switch command {
	case "stats":
		c := s.telemetry.Stats()
		return map[string]interface{}{
			"requests":      c.Requests,
			"frames":        c.Frames,
			"crc_errors":    c.CRCErrors,
			"timeouts":      c.Timeouts,
			"packets":       c.Packets,
			"resyncs":       c.Resyncs,
			"skipped_bytes": c.SkippedBytes,
			"late_bytes":    c.LateBytes,
			"dropped_bytes": c.DroppedBytes,
			"half_duplex":   s.telemetry.Config().HalfDuplex,
			"last_outcome":  s.telemetry.LastOutcome().String(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func (s *escTelemetrySensor) Close(context.Context) error {
	s.cancelFunc()
	err := s.port.Close()
	s.workers.Wait()
	return err
}
