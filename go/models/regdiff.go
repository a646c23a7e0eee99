package models

import (
	"fmt"
	"strings"

	"github.com/mgutz/ansi"
)

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

func colorPad(s, color string, pad int) string {
	length := len(s)
	s = color + s + ansi.Reset
	if length < pad {
		s = strings.Repeat(" ", pad-length) + s
	}
	return s
}

type ChangeMask struct {
	Old, New string
	Changed  bool
}

type Change struct {
	Old, New uint64
	Enum     int
	Name     string
}

func (c *Change) Changed() bool {
	return c.Old != c.New
}

// Mask splits the hex rendering of New into runs that match or differ from Old.
func (c *Change) Mask(bsz int) []ChangeMask {
	hexFmt := fmt.Sprintf("%%0%dx", bsz)
	s1, s2 := fmt.Sprintf(hexFmt, c.New), fmt.Sprintf(hexFmt, c.Old)
	pos := 0
	matching := true
	masks := make([]ChangeMask, 0, len(s1))
	for i := range s1 {
		if (s1[i] == s2[i]) != matching {
			if i > pos {
				masks = append(masks, ChangeMask{
					New:     s1[pos:i],
					Old:     s2[pos:i],
					Changed: !matching,
				})
				pos = i
			}
			matching = !matching
		}
	}
	if pos < len(s1) {
		masks = append(masks, ChangeMask{
			New:     s1[pos:],
			Old:     s2[pos:],
			Changed: !matching,
		})
	}
	return masks
}

func (c *Change) String(bsz int, color bool) string {
	var out []string
	hexFmt := fmt.Sprintf("%%0%dx", bsz)
	lineStart := fmt.Sprintf(" %6s 0x", c.Name)
	if c.Changed() {
		if color {
			out = append(out, fmt.Sprintf(" %s 0x", colorPad(c.Name, chNew, 6)))
			for _, mask := range c.Mask(bsz) {
				col := chSame
				if mask.Changed {
					col = chNew
				}
				out = append(out, col+mask.New)
			}
			out = append(out, ansi.Reset)
		} else {
			out = append(out, fmt.Sprintf("+"+lineStart+hexFmt, c.New))
		}
	} else {
		out = append(out, fmt.Sprintf(lineStart+hexFmt, c.New))
	}
	return strings.Join(out, "")
}

type Changes struct {
	Bsz     int
	Changes []*Change
}

func (cs *Changes) String(color bool) string {
	var out []string
	for _, c := range cs.Changes {
		out = append(out, c.String(cs.Bsz, color))
	}
	return strings.Join(out, "\n")
}

func (cs *Changes) Count() int {
	ret := 0
	for _, c := range cs.Changes {
		if c.Changed() {
			ret += 1
		}
	}
	return ret
}

func (cs *Changes) Find(enum int) *Change {
	for _, c := range cs.Changes {
		if c.Enum == enum {
			return c
		}
	}
	return nil
}

// DiffRegs compares two register files in the architecture's natural register order.
func DiffRegs(arch Arch, old, cur *Registers, onlyChanged bool) *Changes {
	regs := arch.Regs()
	cs := make([]*Change, 0, len(regs))
	mask := ^uint64(0) >> (64 - arch.Bits())
	for _, r := range regs {
		c := &Change{
			Old:  old[r.Enum] & mask,
			New:  cur[r.Enum] & mask,
			Enum: r.Enum,
			Name: r.Name,
		}
		if !onlyChanged || c.Changed() {
			cs = append(cs, c)
		}
	}
	return &Changes{Bsz: int(arch.Bits() / 4), Changes: cs}
}
