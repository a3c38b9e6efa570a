package cfg

import (
	"github.com/codeassociates/bulu/ir"
)

// RegSet is a set of virtual registers.
type RegSet map[ir.Reg]bool

func (s RegSet) add(r ir.Reg) {
	s[r] = true
}

func (s RegSet) union(other RegSet) bool {
	changed := false
	for r := range other {
		if !s[r] {
			s[r] = true
			changed = true
		}
	}
	return changed
}

func (s RegSet) clone() RegSet {
	out := make(RegSet, len(s))
	for r := range s {
		out[r] = true
	}
	return out
}

func (s RegSet) equal(other RegSet) bool {
	if len(s) != len(other) {
		return false
	}
	for r := range s {
		if !other[r] {
			return false
		}
	}
	return true
}

// Liveness holds per-block live-in and live-out register sets.
type Liveness struct {
	LiveIn  []RegSet
	LiveOut []RegSet
	Use     []RegSet
	Def     []RegSet
}

// ComputeLiveness runs the backward fixed-point iteration:
//
//	live_in[b]  = use[b] ∪ (live_out[b] \ def[b])
//	live_out[b] = ⋃ live_in[succ]
func ComputeLiveness(g *Graph) *Liveness {
	n := len(g.Nodes)
	lv := &Liveness{
		LiveIn:  make([]RegSet, n),
		LiveOut: make([]RegSet, n),
		Use:     make([]RegSet, n),
		Def:     make([]RegSet, n),
	}
	for i := range g.Nodes {
		use, def := blockUseDef(g.Fn.Blocks[i])
		lv.Use[i], lv.Def[i] = use, def
		lv.LiveIn[i] = RegSet{}
		lv.LiveOut[i] = RegSet{}
	}

	changed := true
	for changed {
		changed = false
		for i := n - 1; i >= 0; i-- {
			out := RegSet{}
			for _, s := range g.Nodes[i].Successors {
				out.union(lv.LiveIn[s])
			}
			in := lv.Use[i].clone()
			for r := range out {
				if !lv.Def[i][r] {
					in.add(r)
				}
			}
			if !out.equal(lv.LiveOut[i]) || !in.equal(lv.LiveIn[i]) {
				lv.LiveOut[i] = out
				lv.LiveIn[i] = in
				changed = true
			}
		}
	}
	return lv
}

// blockUseDef computes the registers read before any definition (use)
// and the registers written (def) in one block. The terminator
// contributes uses: return value, branch condition, switch value and
// case constants.
func blockUseDef(b *ir.BasicBlock) (use, def RegSet) {
	use, def = RegSet{}, RegSet{}
	for _, inst := range b.Instructions {
		for _, op := range inst.Operands {
			if op.Kind == ir.ValRegister && !def[op.Reg] {
				use.add(op.Reg)
			}
		}
		if inst.Result != ir.NoReg {
			def.add(inst.Result)
		}
	}
	for _, v := range terminatorUses(b.Term) {
		if !def[v] {
			use.add(v)
		}
	}
	return use, def
}

func terminatorUses(t ir.Terminator) []ir.Reg {
	var uses []ir.Reg
	collect := func(v ir.Value) {
		if v.Kind == ir.ValRegister {
			uses = append(uses, v.Reg)
		}
	}
	switch t.Kind {
	case ir.TermReturn:
		if t.HasValue {
			collect(t.Value)
		}
	case ir.TermCondBranch:
		collect(t.Cond)
	case ir.TermSwitch:
		collect(t.SwitchValue)
		for _, c := range t.Cases {
			collect(c.Value)
		}
	}
	return uses
}

// Definition identifies one write to a register: (block, instruction
// index).
type Definition struct {
	Block int
	Index int
	Reg   ir.Reg
}

// ReachingDefs holds per-block reaching-definition sets.
type ReachingDefs struct {
	In  []map[Definition]bool
	Out []map[Definition]bool
}

// ComputeReachingDefs runs the forward dataflow: gen on write, kill on
// redefinition, meet by union over predecessors.
func ComputeReachingDefs(g *Graph) *ReachingDefs {
	n := len(g.Nodes)
	rd := &ReachingDefs{
		In:  make([]map[Definition]bool, n),
		Out: make([]map[Definition]bool, n),
	}

	gen := make([]map[Definition]bool, n)
	defsOf := map[ir.Reg][]Definition{}
	for i, b := range g.Fn.Blocks {
		gen[i] = map[Definition]bool{}
		last := map[ir.Reg]Definition{}
		for j, inst := range b.Instructions {
			if inst.Result != ir.NoReg {
				d := Definition{Block: i, Index: j, Reg: inst.Result}
				last[inst.Result] = d
				defsOf[inst.Result] = append(defsOf[inst.Result], d)
			}
		}
		for _, d := range last {
			gen[i][d] = true
		}
	}

	kills := func(block int) map[Definition]bool {
		out := map[Definition]bool{}
		for d := range gen[block] {
			for _, other := range defsOf[d.Reg] {
				if other.Block != block {
					out[other] = true
				}
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		rd.In[i] = map[Definition]bool{}
		rd.Out[i] = map[Definition]bool{}
	}

	changed := true
	for changed {
		changed = false
		for i := 0; i < n; i++ {
			in := map[Definition]bool{}
			for _, p := range g.Nodes[i].Predecessors {
				for d := range rd.Out[p] {
					in[d] = true
				}
			}
			kill := kills(i)
			out := map[Definition]bool{}
			for d := range gen[i] {
				out[d] = true
			}
			for d := range in {
				if !kill[d] && !redefinedIn(gen[i], d.Reg) {
					out[d] = true
				}
			}
			if !defSetEqual(in, rd.In[i]) || !defSetEqual(out, rd.Out[i]) {
				rd.In[i] = in
				rd.Out[i] = out
				changed = true
			}
		}
	}
	return rd
}

func redefinedIn(gen map[Definition]bool, r ir.Reg) bool {
	for d := range gen {
		if d.Reg == r {
			return true
		}
	}
	return false
}

func defSetEqual(a, b map[Definition]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for d := range a {
		if !b[d] {
			return false
		}
	}
	return true
}
