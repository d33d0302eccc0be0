/*
 * ia32core - Main process.
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

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	config "github.com/86Box/86Box-sub014/config/configparser"
	"github.com/86Box/86Box-sub014/config/coreconfig"
	"github.com/86Box/86Box-sub014/debugconsole"
	core "github.com/86Box/86Box-sub014/emu/core"
	"github.com/86Box/86Box-sub014/emu/hostexec"
	"github.com/86Box/86Box-sub014/emu/memory"
	"github.com/86Box/86Box-sub014/inspector"
	logger "github.com/86Box/86Box-sub014/util/logger"

	_ "github.com/86Box/86Box-sub014/config/debugconfig"
)

var Logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "ia32core.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optMemSize := getopt.Uint32Long("memsize", 'm', 16<<20, "Guest memory size in bytes")
	optInspect := getopt.BoolLong("inspect", 'i', "Run the live inspector TUI instead of the line console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			slog.Error("could not create log file", slog.String("path", *optLogFile), slog.Any("err", err))
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	debug := false
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debug))
	slog.SetDefault(Logger)

	Logger.Info("ia32core started")

	if _, err := os.Stat(*optConfig); err == nil {
		if err := config.LoadConfigFile(*optConfig); err != nil {
			Logger.Error("configuration error", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		Logger.Warn("no configuration file found, using defaults", slog.String("path", *optConfig))
	}

	mem := memory.NewFlat(*optMemSize)
	c := core.New(mem, coreconfig.Current.RingSize, chooseExecAllocator())
	defer c.Close()

	if !c.SetCPU(coreconfig.Current.Timing) {
		Logger.Warn("unknown timing backend in configuration, keeping default", slog.String("cpu", coreconfig.Current.Timing))
	}
	c.FPU.SetBackend(coreconfig.Current.FPUBackend)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		Logger.Info("shutting down")
		c.Stop()
		os.Exit(0)
	}()

	if *optInspect {
		if err := inspector.Run(c); err != nil {
			Logger.Error("inspector exited with error", slog.Any("err", err))
			os.Exit(1)
		}
		return
	}

	debugconsole.Run(c)
}

// chooseExecAllocator selects the platform-specific executable-memory
// allocator; builds that lack a unix/windows build tag match fall back
// to PortableAllocator (spec.md section 9's explicit non-goal for
// hosts outside the JIT's two supported word sizes).
func chooseExecAllocator() hostexec.Allocator {
	if a := platformExecAllocator(); a != nil {
		return a
	}
	return hostexec.PortableAllocator{}
}
