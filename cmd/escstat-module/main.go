// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package main

import (
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"

	"github.com/Thermoquad/escstat/pkg/viamsensor"
)

func main() {
	module.ModularMain(resource.APIModel{API: sensor.API, Model: viamsensor.EscTelemetry})
}
