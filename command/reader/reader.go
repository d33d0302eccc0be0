/*
 * ia32core - Interactive console line reader.
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

// Package reader drives the operator console's line-editing loop, the
// same way the teacher's command/reader does: github.com/peterh/liner
// for history and tab-completion, delegating line content to
// command/parser.
package reader

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/peterh/liner"

	"github.com/86Box/86Box-sub014/command/parser"
	"github.com/86Box/86Box-sub014/emu/core"
)

// ConsoleReader runs the console read-eval loop until the operator
// quits or aborts the prompt (Ctrl-D/Ctrl-C).
func ConsoleReader(c *core.Core) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		return parser.CompleteCmd(in)
	})

	for {
		command, err := line.Prompt("ia32core> ")
		if err == nil {
			line.AppendHistory(command)
			quit, cerr := parser.ProcessCommand(command, c)
			if cerr != nil {
				fmt.Println("error: " + cerr.Error())
			}
			if quit {
				return
			}
			continue
		}

		if errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		slog.Error("error reading console line", slog.Any("err", err))
		return
	}
}
