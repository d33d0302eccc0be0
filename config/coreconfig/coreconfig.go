/*
 * ia32core - Core-sizing and backend-selection configuration.
 *
 * Copyright (c) 2025 The ia32core Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a
 * copy of this software and associated documentation files (the "Software"),
 * to deal in the Software without restriction, including without limitation
 * the rights to use, copy, modify, merge, publish, distribute, sublicense,
 * and/or sell copies of the Software, and to permit persons to whom the
 * Software is furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING
 * FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER
 * DEALINGS IN THE SOFTWARE.
 */

// Package coreconfig registers the "ring", "cpu" and "fpubackend"
// configuration directives SPEC_FULL.md's AMBIENT STACK section
// promises: block-ring size, the startup timing backend and the FPU
// backend. It follows the teacher's
// config/cpu.go shape (config.RegisterOption("MEMSIZE", setMemSize)) —
// a package-level settings struct populated by directive callbacks,
// read by cmd/ia32core at startup instead of by a global CPU singleton.
package coreconfig

import (
	"errors"
	"strings"
	"unicode"

	config "github.com/86Box/86Box-sub014/config/configparser"
)

// Settings holds the values cmd/ia32core reads when constructing the
// Core. Defaults match emu/core.New's previous hardcoded values.
type Settings struct {
	RingSize   int
	Timing     string // one of emu/timing.Standard()'s registered names
	FPUBackend string // "double", "native80" or "softfloat"; SPEC_FULL.md Open Question 2
}

var Current = Settings{
	RingSize:   4096,
	Timing:     "pentium",
	FPUBackend: "double",
}

func init() {
	config.RegisterOption("RING", setRing)
	config.RegisterOption("CPU", setTiming)
	config.RegisterOption("FPUBACKEND", setFPUBackend)
}

// setRing parses a bare integer, optionally suffixed 'k'/'m' the way
// the teacher's setMemSize parses MEMSIZE.
func setRing(number string, _ []config.Option) error {
	size := 0
	multiplier := ' '
	for i, digit := range number {
		if !unicode.IsDigit(digit) {
			if i == len(number)-1 {
				multiplier = digit
				break
			}
			return errors.New("ring size not a number: " + number)
		}
		size = (size * 10) + (int(digit) - '0')
	}
	switch multiplier {
	case 'k', 'K':
		size *= 1024
	case 'm', 'M':
		size *= 1024 * 1024
	case ' ':
	default:
		return errors.New("unknown ring size suffix: " + string(multiplier))
	}
	if size <= 0 {
		return errors.New("ring size must be positive: " + number)
	}
	Current.RingSize = size
	return nil
}

func setTiming(name string, _ []config.Option) error {
	Current.Timing = strings.ToLower(name)
	return nil
}

func setFPUBackend(name string, _ []config.Option) error {
	name = strings.ToLower(name)
	if name != "double" && name != "native80" && name != "softfloat" {
		return errors.New("unknown fpu backend: " + name)
	}
	Current.FPUBackend = name
	return nil
}

// Reset restores defaults, for tests that load more than one
// configuration file in the same process.
func Reset() {
	Current = Settings{RingSize: 4096, Timing: "pentium", FPUBackend: "double"}
}
