// Package cfg builds control-flow graphs over IR functions and runs
// the dataflow analyses the optimizer depends on: dominators,
// post-dominators, natural loops, liveness, and reaching definitions.
package cfg

import (
	"github.com/codeassociates/bulu/ir"
)

// Node is one CFG node; its id is the block's index in the function.
type Node struct {
	ID           int
	BlockLabel   string
	Predecessors []int
	Successors   []int
}

// Edge is a directed CFG edge; Cond records the branch condition label
// ("true"/"false") when the edge comes from a conditional branch.
type Edge struct {
	From int
	To   int
	Cond string
}

// Graph is the CFG of one function. Node 0 is the entry; nodes with no
// successors are exits. Predecessor/successor lists are kept mutually
// consistent with the edge list.
type Graph struct {
	Fn    *ir.Function
	Nodes []*Node
	Edges []Edge

	labelIndex map[string]int
}

// Build constructs the CFG from the function's block list.
func Build(fn *ir.Function) *Graph {
	g := &Graph{Fn: fn, labelIndex: make(map[string]int, len(fn.Blocks))}
	for i, b := range fn.Blocks {
		g.Nodes = append(g.Nodes, &Node{ID: i, BlockLabel: b.Label})
		g.labelIndex[b.Label] = i
	}
	for i, b := range fn.Blocks {
		switch b.Term.Kind {
		case ir.TermReturn, ir.TermUnreachable:
			// no successors
		case ir.TermBranch:
			g.addEdge(i, g.labelIndex[b.Term.Target], "")
		case ir.TermCondBranch:
			g.addEdge(i, g.labelIndex[b.Term.TrueLabel], "true")
			g.addEdge(i, g.labelIndex[b.Term.FalseLabel], "false")
		case ir.TermSwitch:
			for _, c := range b.Term.Cases {
				g.addEdge(i, g.labelIndex[c.Label], "")
			}
			if b.Term.DefaultLabel != "" {
				g.addEdge(i, g.labelIndex[b.Term.DefaultLabel], "")
			}
		}
	}
	return g
}

func (g *Graph) addEdge(from, to int, cond string) {
	for _, e := range g.Edges {
		if e.From == from && e.To == to {
			return
		}
	}
	g.Edges = append(g.Edges, Edge{From: from, To: to, Cond: cond})
	g.Nodes[from].Successors = append(g.Nodes[from].Successors, to)
	g.Nodes[to].Predecessors = append(g.Nodes[to].Predecessors, from)
}

// Exits returns the ids of nodes with no successors.
func (g *Graph) Exits() []int {
	var exits []int
	for _, n := range g.Nodes {
		if len(n.Successors) == 0 {
			exits = append(exits, n.ID)
		}
	}
	return exits
}

// Unreachable returns node ids not reachable from the entry.
func (g *Graph) Unreachable() []int {
	if len(g.Nodes) == 0 {
		return nil
	}
	seen := make([]bool, len(g.Nodes))
	work := []int{0}
	seen[0] = true
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range g.Nodes[n].Successors {
			if !seen[s] {
				seen[s] = true
				work = append(work, s)
			}
		}
	}
	var out []int
	for i, ok := range seen {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// NoDom marks the entry's immediate dominator slot.
const NoDom = -1

// Dominators computes immediate dominators with the iterative
// two-fingers algorithm. The entry dominates itself and carries the
// NoDom sentinel. Unreachable nodes keep NoDom.
func Dominators(g *Graph) []int {
	n := len(g.Nodes)
	idom := make([]int, n)
	for i := range idom {
		idom[i] = NoDom
	}
	if n == 0 {
		return idom
	}

	order := reversePostorder(g, 0, false)
	pos := make([]int, n)
	for i := range pos {
		pos[i] = -1
	}
	for i, b := range order {
		pos[b] = i
	}

	idom[0] = 0
	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == 0 {
				continue
			}
			newIdom := -1
			for _, p := range g.Nodes[b].Predecessors {
				if idom[p] == NoDom && p != 0 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(idom, pos, p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	idom[0] = NoDom
	return idom
}

// intersect walks the two fingers up the dominator tree.
func intersect(idom, pos []int, a, b int) int {
	for a != b {
		for pos[a] > pos[b] {
			a = idom[a]
			if a == NoDom {
				return b
			}
		}
		for pos[b] > pos[a] {
			b = idom[b]
			if b == NoDom {
				return a
			}
		}
	}
	return a
}

// PostDominators computes immediate post-dominators symmetrically,
// starting from the exit nodes; each exit post-dominates itself.
func PostDominators(g *Graph) []int {
	n := len(g.Nodes)
	ipdom := make([]int, n)
	for i := range ipdom {
		ipdom[i] = NoDom
	}
	exits := g.Exits()
	if len(exits) == 0 {
		return ipdom
	}

	// Reverse-graph postorder from all exits.
	order := make([]int, 0, n)
	seen := make([]bool, n)
	var walk func(int)
	walk = func(node int) {
		seen[node] = true
		for _, p := range g.Nodes[node].Predecessors {
			if !seen[p] {
				walk(p)
			}
		}
		order = append(order, node)
	}
	for _, e := range exits {
		if !seen[e] {
			walk(e)
		}
	}
	// order is postorder of the reverse graph; process in reverse.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	pos := make([]int, n)
	for i := range pos {
		pos[i] = -1
	}
	for i, b := range order {
		pos[b] = i
	}

	isExit := make([]bool, n)
	for _, e := range exits {
		isExit[e] = true
		ipdom[e] = e
	}

	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if isExit[b] {
				continue
			}
			newIpdom := -1
			for _, s := range g.Nodes[b].Successors {
				if ipdom[s] == NoDom {
					continue
				}
				if newIpdom == -1 {
					newIpdom = s
				} else {
					newIpdom = intersect(ipdom, pos, s, newIpdom)
				}
			}
			if newIpdom != -1 && ipdom[b] != newIpdom {
				ipdom[b] = newIpdom
				changed = true
			}
		}
	}
	for _, e := range exits {
		ipdom[e] = NoDom
	}
	return ipdom
}

// Dominates reports whether a dominates b under the idom array
// (reflexively).
func Dominates(idom []int, a, b int) bool {
	if a == b {
		return true
	}
	for b != NoDom {
		b = idom[b]
		if b == a {
			return true
		}
	}
	return false
}

// Loop is a natural loop: the nodes that can reach the back edge
// source without passing through the header.
type Loop struct {
	Header         int
	BackEdgeSource int
	Nodes          map[int]bool
}

// NaturalLoops finds a loop for every back edge (an edge whose target
// dominates its source).
func NaturalLoops(g *Graph, idom []int) []Loop {
	var loops []Loop
	for _, e := range g.Edges {
		if !Dominates(idom, e.To, e.From) {
			continue
		}
		header, source := e.To, e.From
		body := map[int]bool{header: true, source: true}
		work := []int{source}
		for len(work) > 0 {
			n := work[len(work)-1]
			work = work[:len(work)-1]
			if n == header {
				continue
			}
			for _, p := range g.Nodes[n].Predecessors {
				if !body[p] {
					body[p] = true
					work = append(work, p)
				}
			}
		}
		loops = append(loops, Loop{Header: header, BackEdgeSource: source, Nodes: body})
	}
	return loops
}

// reversePostorder returns nodes in reverse postorder from root.
func reversePostorder(g *Graph, root int, reverse bool) []int {
	n := len(g.Nodes)
	seen := make([]bool, n)
	var order []int
	var walk func(int)
	walk = func(node int) {
		seen[node] = true
		next := g.Nodes[node].Successors
		if reverse {
			next = g.Nodes[node].Predecessors
		}
		for _, s := range next {
			if !seen[s] {
				walk(s)
			}
		}
		order = append(order, node)
	}
	walk(root)
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
