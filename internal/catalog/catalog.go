// Package catalog holds fixed reference circuits: the edges a previous
// discovery run kept for each task. Catalogs are read-only.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-circuit/internal/errs"
)

const maxIndexRank = 4

// Slot selects one position along an axis, or the whole axis.
type Slot struct {
	pos int
	set bool
}

// All selects a whole axis.
var All = Slot{}

func At(i int) Slot { return Slot{pos: i, set: true} }

func (s Slot) String() string {
	if !s.set {
		return "None"
	}
	return strconv.Itoa(s.pos)
}

// Index is a tuple of slots addressing a sub-slice of an activation.
type Index struct {
	slots [maxIndexRank]Slot
	rank  int
}

func NewIndex(slots ...Slot) Index {
	if len(slots) > maxIndexRank {
		panic(fmt.Sprintf("catalog: index rank %d exceeds %d", len(slots), maxIndexRank))
	}
	var idx Index
	copy(idx.slots[:], slots)
	idx.rank = len(slots)
	return idx
}

func (i Index) Rank() int { return i.rank }

func (i Index) Slots() []Slot { return append([]Slot(nil), i.slots[:i.rank]...) }

func (i Index) String() string {
	parts := make([]string, i.rank)
	for k := 0; k < i.rank; k++ {
		parts[k] = i.slots[k].String()
	}
	if i.rank == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

var (
	whole = NewIndex(All)
	head0 = NewIndex(All, All, At(0))
)

// Node is a hook point plus the slice of it an edge touches.
type Node struct {
	Hook  string
	Index Index
}

func (n Node) String() string { return n.Hook + n.Index.String() }

// Edge points from a child node to the parent it reads from.
type Edge struct {
	Child  Node
	Parent Node
}

func (e Edge) String() string { return e.Child.String() + " <- " + e.Parent.String() }

type Entry struct {
	Edge     Edge
	Included bool
}

// Provenance records the discovery configuration a catalog came from.
type Provenance struct {
	Task      string
	Threshold string
	Metric    string
	Ablation  string
	Commit    string
}

type Catalog struct {
	prov    Provenance
	entries []Entry
	index   map[Edge]int
}

func newCatalog(prov Provenance, entries []Entry) (*Catalog, error) {
	c := &Catalog{prov: prov, entries: entries, index: make(map[Edge]int, len(entries))}
	for i, e := range entries {
		if _, dup := c.index[e.Edge]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate edge %s", prov.Task, e.Edge)
		}
		c.index[e.Edge] = i
	}
	return c, nil
}

func mustCatalog(prov Provenance, entries []Entry) *Catalog {
	c, err := newCatalog(prov, entries)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Provenance() Provenance { return c.prov }

func (c *Catalog) Len() int { return len(c.entries) }

// Lookup reports the inclusion flag of e and whether e is in the catalog.
func (c *Catalog) Lookup(e Edge) (included, ok bool) {
	i, ok := c.index[e]
	if !ok {
		return false, false
	}
	return c.entries[i].Included, true
}

// Entries returns a copy of the entries in insertion order.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Edges returns the included edges in insertion order.
func (c *Catalog) Edges() []Edge {
	out := make([]Edge, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Included {
			out = append(out, e.Edge)
		}
	}
	return out
}

// Nodes returns every node touched by an entry, in first-seen order.
func (c *Catalog) Nodes() []Node {
	seen := make(map[Node]bool)
	var out []Node
	for _, e := range c.entries {
		for _, n := range []Node{e.Edge.Child, e.Edge.Parent} {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// Comparison scores a discovered edge set against a catalog.
type Comparison struct {
	TruePositives  []Edge
	FalsePositives []Edge
	FalseNegatives []Edge
}

func (c Comparison) Precision() float64 {
	tp, fp := len(c.TruePositives), len(c.FalsePositives)
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

func (c Comparison) Recall() float64 {
	tp, fn := len(c.TruePositives), len(c.FalseNegatives)
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

// Compare splits found into edges the catalog includes and edges it does not,
// and lists included catalog edges missing from found.
func (c *Catalog) Compare(found []Edge) Comparison {
	var cmp Comparison
	hit := make(map[Edge]bool, len(found))
	for _, e := range found {
		if hit[e] {
			continue
		}
		hit[e] = true
		if included, ok := c.Lookup(e); ok && included {
			cmp.TruePositives = append(cmp.TruePositives, e)
		} else {
			cmp.FalsePositives = append(cmp.FalsePositives, e)
		}
	}
	for _, e := range c.Edges() {
		if !hit[e] {
			cmp.FalseNegatives = append(cmp.FalseNegatives, e)
		}
	}
	return cmp
}

// ForTask returns the catalog for a task name.
func ForTask(task string) (*Catalog, error) {
	switch task {
	case "reverse":
		return Reverse(), nil
	case "proportion":
		return Proportion(), nil
	}
	return nil, errs.Configf("task", "no reference circuit for task %q", task)
}
