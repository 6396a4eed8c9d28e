// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Skylink - flight telemetry link
//
// Runs the onboard telemetry stack against a simulated vehicle and provides
// ground station tools for decoding, recording, relaying and commanding.

package main

import (
	"os"

	"github.com/Thermoquad/skylink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
