// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// axisctl - Axis Controller Board Register Tool
//
// A CLI tool for reading, writing and configuring the named registers of
// axis controller boards over TCP, serial or WebSocket links.

package main

import (
	"os"

	"github.com/Thermoquad/axisctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
