// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlinktest

import (
	"math"

	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// DemoRegister describes one register of the demo board.
type DemoRegister struct {
	Name    string
	Type    vlink.WireType
	Initial uint32
}

// DemoRegisters is a reduced register map of a two-axis controller.
var DemoRegisters = []DemoRegister{
	{"state_1", vlink.TypeUint16, 0},
	{"state_2", vlink.TypeUint16, 0},
	{"peripherial", vlink.TypeUint16, 0},
	{"errorAction_1", vlink.TypeUint32, 0x0000000F},
	{"errorAction_2", vlink.TypeUint32, 0x0000000F},
	{"angleconfig_2", vlink.TypeUint16, 0},
	{"polnr_2", vlink.TypeUint16, 4},
	{"enc_2", vlink.TypeUint16, 0},
	{"pos_2", vlink.TypeInt32, 0x4000_0000},
	{"pos_err_2", vlink.TypeInt32, 0},
	{"vel_targ_1", vlink.TypeFloat32, 0},
	{"vel_targ_2", vlink.TypeFloat32, 0},
	{"vel_lim_2", vlink.TypeFloat32, math.Float32bits(0.027777)},
	{"acc_lim_2", vlink.TypeFloat32, math.Float32bits(0.013888)},
	{"kp_cur_2", vlink.TypeFloat32, math.Float32bits(0.4)},
	{"ki_cur_2", vlink.TypeFloat32, math.Float32bits(15)},
	{"cur_err_2", vlink.TypeFloat32, 0},
	{"epsilon0PU_2", vlink.TypeInt16, 0},
	{"sysid_control", vlink.TypeUint16, 0},
	{"sysid_status", vlink.TypeUint16, 0},
	{"sysid_length", vlink.TypeUint16, 256},
}

// NewDemo returns a simulator populated with DemoRegisters at consecutive
// word addresses.
func NewDemo() *Simulator {
	s := New()
	for i, r := range DemoRegisters {
		off := 0x100 + 4*i
		addr := vlink.Address{0x20, byte(off >> 8), byte(off)}
		s.AddRegister(r.Name, r.Type, addr, r.Initial)
	}
	return s
}
