package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/86Box/86Box-sub014/emu/hostexec"
	"github.com/86Box/86Box-sub014/emu/memory"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	mem := memory.NewFlat(1 << 20)
	var exec hostexec.PortableAllocator
	return New(mem, 8, exec)
}

func TestNewResetsFPUAndSelectsPentiumBackendByDefault(t *testing.T) {
	c := newTestCore(t)
	assert.Equal(t, uint16(0x037F), c.State.NPXC)
	assert.NotNil(t, c.Disp.Timing)
	assert.Equal(t, "pentium", c.Disp.Timing.Name)
}

func TestSetCPUSwitchesBackend(t *testing.T) {
	c := newTestCore(t)
	assert.True(t, c.SetCPU("486"))
	assert.Equal(t, "486", c.Disp.Timing.Name)
}

func TestSetCPUUnknownNameLeavesBackendUnchanged(t *testing.T) {
	c := newTestCore(t)
	assert.False(t, c.SetCPU("bogus"))
	assert.Equal(t, "pentium", c.Disp.Timing.Name)
}

func TestRunBuildsAndPublishesBlockOnMiss(t *testing.T) {
	c := newTestCore(t)
	c.Run(2) // nothing cached at PC 0: the first iteration translates
	assert.False(t, c.running)

	_, ok := c.Cache.Lookup(0, 0)
	assert.True(t, ok, "the freshly built block must be published")
}

func TestRunHaltsOnPendingAbort(t *testing.T) {
	c := newTestCore(t)
	c.State.PushAbort(1)
	c.Run(-1)
	assert.False(t, c.running)
}

func TestFPUOpFnExecutesRegisterForm(t *testing.T) {
	c := newTestCore(t)
	fn := c.Disp.OpTable[0][0xd9]
	require.NotNil(t, fn)

	res := fn(c.State, 0xe8) // FLD1
	assert.Zero(t, res)
	assert.Equal(t, 1.0, c.FPU.ST(0))
}

func TestFPUOpFnResolvesMemoryOperand(t *testing.T) {
	c := newTestCore(t)
	mem := c.Mem.(*memory.Flat)
	require.Equal(t, memory.AbortNone, mem.WriteQuad(0x2000, 0x4000000000000000)) // 2.0

	// FLD qword [0x2000] is DD 05 disp32 (6 bytes at 0x100); at
	// handler time PC has been committed past the instruction and the
	// disp32 sits in the code stream's last four bytes.
	require.Equal(t, memory.AbortNone, mem.WriteLong(0x102, 0x2000))
	c.State.PC = 0x106
	c.State.ASize32 = true

	fn := c.Disp.OpTable[0][0xdd]
	require.NotNil(t, fn)
	res := fn(c.State, 0x05)
	assert.Zero(t, res)
	assert.Equal(t, 2.0, c.FPU.ST(0))
	assert.Equal(t, uint32(0x2000), c.State.EAAddr)
}

func TestAllocAndCloseExecRegionRoundTrip(t *testing.T) {
	c := newTestCore(t)
	require.NoError(t, c.AllocExecRegion(4096))
	require.NoError(t, c.Close())
}
