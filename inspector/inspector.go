/*
 * ia32core - Live block-cache/FPU inspector TUI.
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

// Package inspector is the "-inspect" live TUI: a read-only Elm-
// architecture view (github.com/charmbracelet/bubbletea +
// github.com/charmbracelet/lipgloss) of block-cache occupancy, the
// dirty/page-mask state of one followed page, and the FPU register
// stack. Grounded on the pack's terminal-game debugger
// (hejops-gone/cpu/debugger.go): a model wrapping the live core,
// Update advancing on a tick message, View rendering fixed panels with
// lipgloss layout joins.
package inspector

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/86Box/86Box-sub014/emu/blockcache"
	"github.com/86Box/86Box-sub014/emu/core"
	"github.com/86Box/86Box-sub014/emu/cpustate"
)

var (
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headStyle  = lipgloss.NewStyle().Bold(true)
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	c   *core.Core
	err error
}

// Run starts the inspector and blocks until the operator quits ('q'
// or Ctrl-C).
func Run(c *core.Core) error {
	m, err := tea.NewProgram(model{c: c}).Run()
	if err != nil {
		return err
	}
	if fm, ok := m.(model); ok && fm.err != nil {
		return fm.err
	}
	return nil
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, m.ringPanel(), m.fpuPanel()),
		"press q to quit",
	)
}

func (m model) ringPanel() string {
	cache := m.c.Cache
	var b strings.Builder
	b.WriteString(headStyle.Render("block ring") + "\n")
	fmt.Fprintf(&b, "occupancy %d/%d\n\n", cache.Occupancy(), cache.Size())

	n := 0
	cache.ForEachValid(func(ref blockcache.Ref, blk *blockcache.CodeBlock) {
		if n >= 12 {
			return
		}
		fmt.Fprintf(&b, "%5d  phys=%08x insns=%-4d mask=%016x\n", ref, blk.Phys, blk.InsnCount, blk.PageMask)
		n++
	})
	if n == 0 {
		b.WriteString("(no live blocks)\n")
	}
	return panelStyle.Render(b.String())
}

var tagGlyph = [...]byte{cpustate.TagValid: 'V', cpustate.TagZero: 'Z', cpustate.TagSpecial: 'S', cpustate.TagEmpty: '.', cpustate.TagUint64: 'U'}

func (m model) fpuPanel() string {
	s := m.c.State
	var b strings.Builder
	b.WriteString(headStyle.Render("x87 fpu") + "\n")
	fmt.Fprintf(&b, "TOP=%d  CW=%#04x  SW=%#04x\n\n", s.Top, s.NPXC, s.NPXS)
	for i := 0; i < 8; i++ {
		phys := (int(s.Top) + i) & 7
		fmt.Fprintf(&b, "ST(%d) %c  %v\n", i, tagGlyph[s.Tag[phys]], s.ST[phys])
	}
	return panelStyle.Render(b.String())
}
