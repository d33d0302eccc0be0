/*
 * ia32core - FLDENV/FSTENV environment images.
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

package fpu

import "encoding/binary"

// SaveEnv writes the FPU environment (the FSAVE header without the
// register images) into dst in the given layout. The two real-mode
// layouts pack the 20-bit linear last-instruction pointer into a
// 16-bit offset plus four high bits placed alongside the opcode
// (spec.md section 4.9); the protected-mode layouts carry the
// selector:offset pairs verbatim. The returned count is the header
// size.
func (c *Core) SaveEnv(dst []byte, l ImageLayout) int {
	sw := c.StatusWord()
	tw := c.tagWord()

	switch l {
	case Layout16Real:
		fpIP := uint32(c.FCS)<<4 | (c.FIP & 0xffff)
		fpDP := uint32(c.FDS)<<4 | (c.FDP & 0xffff)
		binary.LittleEndian.PutUint16(dst[0x00:], c.S.NPXC)
		binary.LittleEndian.PutUint16(dst[0x02:], sw)
		binary.LittleEndian.PutUint16(dst[0x04:], tw)
		binary.LittleEndian.PutUint16(dst[0x06:], uint16(fpIP))
		binary.LittleEndian.PutUint16(dst[0x08:], uint16((fpIP&0xf0000)>>4)|(c.FOP&0x07ff))
		binary.LittleEndian.PutUint16(dst[0x0a:], uint16(fpDP))
		binary.LittleEndian.PutUint16(dst[0x0c:], uint16((fpDP&0xf0000)>>4))
	case Layout16Protected:
		binary.LittleEndian.PutUint16(dst[0x00:], c.S.NPXC)
		binary.LittleEndian.PutUint16(dst[0x02:], sw)
		binary.LittleEndian.PutUint16(dst[0x04:], tw)
		binary.LittleEndian.PutUint16(dst[0x06:], uint16(c.FIP))
		binary.LittleEndian.PutUint16(dst[0x08:], c.FCS)
		binary.LittleEndian.PutUint16(dst[0x0a:], uint16(c.FDP))
		binary.LittleEndian.PutUint16(dst[0x0c:], c.FDS)
	case Layout32Real:
		fpIP := uint32(c.FCS)<<4 | (c.FIP & 0xffff)
		fpDP := uint32(c.FDS)<<4 | (c.FDP & 0xffff)
		binary.LittleEndian.PutUint32(dst[0x00:], 0xffff0000|uint32(c.S.NPXC))
		binary.LittleEndian.PutUint32(dst[0x04:], 0xffff0000|uint32(sw))
		binary.LittleEndian.PutUint32(dst[0x08:], 0xffff0000|uint32(tw))
		binary.LittleEndian.PutUint32(dst[0x0c:], 0xffff0000|(fpIP&0xffff))
		binary.LittleEndian.PutUint32(dst[0x10:], (fpIP&0xffff0000)>>4|uint32(c.FOP&0x07ff))
		binary.LittleEndian.PutUint32(dst[0x14:], 0xffff0000|(fpDP&0xffff))
		binary.LittleEndian.PutUint32(dst[0x18:], (fpDP&0xffff0000)>>4)
	default: // Layout32Protected
		binary.LittleEndian.PutUint32(dst[0x00:], 0xffff0000|uint32(c.S.NPXC))
		binary.LittleEndian.PutUint32(dst[0x04:], 0xffff0000|uint32(sw))
		binary.LittleEndian.PutUint32(dst[0x08:], 0xffff0000|uint32(tw))
		binary.LittleEndian.PutUint32(dst[0x0c:], c.FIP)
		binary.LittleEndian.PutUint32(dst[0x10:], uint32(c.FCS)|uint32(c.FOP&0x07ff)<<16)
		binary.LittleEndian.PutUint32(dst[0x14:], c.FDP)
		binary.LittleEndian.PutUint32(dst[0x18:], 0xffff0000|uint32(c.FDS))
	}
	return headerSize(l)
}

// RestoreEnv loads control/status/tag and the last-instruction pointers
// from an environment image, the inverse of SaveEnv. TOP is extracted
// from the restored status word; the per-register tags are the caller's
// concern (FLDENV leaves the register contents alone, FRSTOR reloads
// them).
func (c *Core) RestoreEnv(src []byte, l ImageLayout) (tagWord uint16, n int) {
	var cw, sw, tw uint16
	switch l {
	case Layout16Real:
		cw = binary.LittleEndian.Uint16(src[0x00:])
		sw = binary.LittleEndian.Uint16(src[0x02:])
		tw = binary.LittleEndian.Uint16(src[0x04:])
		ipLo := uint32(binary.LittleEndian.Uint16(src[0x06:]))
		ipHiOp := binary.LittleEndian.Uint16(src[0x08:])
		dpLo := uint32(binary.LittleEndian.Uint16(src[0x0a:]))
		dpHi := binary.LittleEndian.Uint16(src[0x0c:])
		c.FIP = ipLo | uint32(ipHiOp&0xf000)<<4
		c.FOP = ipHiOp & 0x07ff
		c.FDP = dpLo | uint32(dpHi&0xf000)<<4
		c.FCS, c.FDS = 0, 0
	case Layout16Protected:
		cw = binary.LittleEndian.Uint16(src[0x00:])
		sw = binary.LittleEndian.Uint16(src[0x02:])
		tw = binary.LittleEndian.Uint16(src[0x04:])
		c.FIP = uint32(binary.LittleEndian.Uint16(src[0x06:]))
		c.FCS = binary.LittleEndian.Uint16(src[0x08:])
		c.FDP = uint32(binary.LittleEndian.Uint16(src[0x0a:]))
		c.FDS = binary.LittleEndian.Uint16(src[0x0c:])
	case Layout32Real:
		cw = uint16(binary.LittleEndian.Uint32(src[0x00:]))
		sw = uint16(binary.LittleEndian.Uint32(src[0x04:]))
		tw = uint16(binary.LittleEndian.Uint32(src[0x08:]))
		ipLo := binary.LittleEndian.Uint32(src[0x0c:]) & 0xffff
		ipHiOp := binary.LittleEndian.Uint32(src[0x10:])
		dpLo := binary.LittleEndian.Uint32(src[0x14:]) & 0xffff
		dpHi := binary.LittleEndian.Uint32(src[0x18:])
		c.FIP = ipLo | (ipHiOp&0x0ffff000)<<4
		c.FOP = uint16(ipHiOp & 0x07ff)
		c.FDP = dpLo | (dpHi&0x0ffff000)<<4
		c.FCS, c.FDS = 0, 0
	default: // Layout32Protected
		cw = uint16(binary.LittleEndian.Uint32(src[0x00:]))
		sw = uint16(binary.LittleEndian.Uint32(src[0x04:]))
		tw = uint16(binary.LittleEndian.Uint32(src[0x08:]))
		c.FIP = binary.LittleEndian.Uint32(src[0x0c:])
		sel := binary.LittleEndian.Uint32(src[0x10:])
		c.FCS = uint16(sel)
		c.FOP = uint16(sel>>16) & 0x07ff
		c.FDP = binary.LittleEndian.Uint32(src[0x14:])
		c.FDS = uint16(binary.LittleEndian.Uint32(src[0x18:]))
	}

	c.S.NPXC = cw
	c.S.NPXS = sw
	c.S.Top = uint8((sw >> SWTopShift) & 7)
	c.commitExceptions()
	return tw, headerSize(l)
}
