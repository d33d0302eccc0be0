package inspector

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/86Box/86Box-sub014/emu/core"
	"github.com/86Box/86Box-sub014/emu/hostexec"
	"github.com/86Box/86Box-sub014/emu/memory"
)

func newTestModel(t *testing.T) model {
	t.Helper()
	mem := memory.NewFlat(1 << 16)
	c := core.New(mem, 16, hostexec.PortableAllocator{})
	return model{c: c}
}

func TestUpdateQuitsOnEsc(t *testing.T) {
	m := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestUpdateReticksOnTick(t *testing.T) {
	m := newTestModel(t)
	_, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.IsType(t, tickMsg{}, cmd())
}

func TestViewRendersBothPanels(t *testing.T) {
	m := newTestModel(t)
	out := m.View()
	assert.Contains(t, out, "block ring")
	assert.Contains(t, out, "x87 fpu")
	assert.Contains(t, out, "press q to quit")
}
