/*
 * ia32core - Debug options configuration.
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

// Package debugconfig registers the "debug" configuration directive
// that toggles the trace switches the debug console and CLI observe:
// block-cache build/evict tracing, self-modifying-code invalidation
// tracing, and FPU unmasked-exception tracing (SPEC_FULL.md's AMBIENT
// STACK section).
package debugconfig

import (
	"errors"
	"strings"

	config "github.com/86Box/86Box-sub014/config/configparser"
)

var (
	BlockTrace bool
	SMCTrace   bool
	FPUTrace   bool
)

func init() {
	config.RegisterOptions("debug", setDebug)
}

func setDebug(first string, options []config.Option) error {
	switch strings.ToUpper(first) {
	case "BLOCK":
		BlockTrace = true
	case "SMC":
		SMCTrace = true
	case "FPU":
		FPUTrace = true
	default:
		return errors.New("unknown debug facility: " + first)
	}
	for _, opt := range options {
		switch strings.ToUpper(opt.Name) {
		case "BLOCK":
			BlockTrace = true
		case "SMC":
			SMCTrace = true
		case "FPU":
			FPUTrace = true
		default:
			return errors.New("unknown debug facility: " + opt.Name)
		}
	}
	return nil
}

// Reset clears every trace switch, for tests that load more than one
// configuration in the same process.
func Reset() {
	BlockTrace = false
	SMCTrace = false
	FPUTrace = false
}
