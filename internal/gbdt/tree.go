package gbdt

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Node is one node of a regression tree. Leaves carry Value; internal nodes
// send x[Feature] <= Threshold to Left and everything else to Right.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a binary regression tree stored as a flat node slice rooted at 0.
type Tree struct {
	Nodes []Node
}

// Predict returns the leaf value reached by x.
func (t Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// NumLeaves reports the number of leaves in the tree.
func (t Tree) NumLeaves() int {
	n := 0
	for _, nd := range t.Nodes {
		if nd.Leaf {
			n++
		}
	}
	return n
}

type split struct {
	ok         bool
	feature    int
	bin        int
	gain       float64
	leftG      float64
	leftH      float64
	leftCount  int
	rightG     float64
	rightH     float64
	rightCount int
}

type leaf struct {
	node  int
	depth int
	rows  []int
	sumG  float64
	sumH  float64
	best  split
}

// grower builds one tree from binned features and the current gradients.
type grower struct {
	params   Params
	mappers  []binMapper
	binned   [][]uint8 // [feature][row]
	grad     []float64
	hess     []float64
	features []int
}

func (g *grower) grow(ctx context.Context, rows []int) (Tree, error) {
	root := &leaf{node: 0, rows: rows}
	for _, r := range rows {
		root.sumG += g.grad[r]
		root.sumH += g.hess[r]
	}
	tree := Tree{Nodes: []Node{{Leaf: true}}}
	if err := g.findSplit(ctx, root); err != nil {
		return Tree{}, err
	}

	leaves := []*leaf{root}
	for len(leaves) < g.params.NumLeaves {
		bi := -1
		for i, l := range leaves {
			if !l.best.ok {
				continue
			}
			if bi < 0 || l.best.gain > leaves[bi].best.gain {
				bi = i
			}
		}
		if bi < 0 {
			break
		}

		parent := leaves[bi]
		s := parent.best
		left := &leaf{node: len(tree.Nodes), depth: parent.depth + 1, sumG: s.leftG, sumH: s.leftH}
		right := &leaf{node: len(tree.Nodes) + 1, depth: parent.depth + 1, sumG: s.rightG, sumH: s.rightH}
		left.rows = make([]int, 0, s.leftCount)
		right.rows = make([]int, 0, s.rightCount)
		col := g.binned[s.feature]
		for _, r := range parent.rows {
			if int(col[r]) <= s.bin {
				left.rows = append(left.rows, r)
			} else {
				right.rows = append(right.rows, r)
			}
		}

		tree.Nodes[parent.node] = Node{
			Feature:   s.feature,
			Threshold: g.mappers[s.feature].threshold(s.bin),
			Left:      left.node,
			Right:     right.node,
		}
		tree.Nodes = append(tree.Nodes, Node{Leaf: true}, Node{Leaf: true})

		for _, child := range []*leaf{left, right} {
			if err := g.findSplit(ctx, child); err != nil {
				return Tree{}, err
			}
		}
		leaves[bi] = left
		leaves = append(leaves, right)
	}

	for _, l := range leaves {
		tree.Nodes[l.node].Value = -g.params.LearningRate * l.sumG / (l.sumH + g.params.Lambda)
	}
	return tree, nil
}

// findSplit scans every sampled feature's histogram for the best split of l.
// Features are searched concurrently; the reduction runs in feature order so
// the result does not depend on scheduling.
func (g *grower) findSplit(ctx context.Context, l *leaf) error {
	l.best = split{}
	if g.params.MaxDepth > 0 && l.depth >= g.params.MaxDepth {
		return nil
	}
	if len(l.rows) < 2*g.params.MinDataInLeaf {
		return nil
	}

	results := make([]split, len(g.features))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range g.features {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = g.bestForFeature(l, f)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, s := range results {
		if s.ok && (!l.best.ok || s.gain > l.best.gain) {
			l.best = s
		}
	}
	return nil
}

func (g *grower) bestForFeature(l *leaf, f int) split {
	nb := g.mappers[f].numBins()
	if nb < 2 {
		return split{}
	}
	histG := make([]float64, nb)
	histH := make([]float64, nb)
	histN := make([]int, nb)
	col := g.binned[f]
	for _, r := range l.rows {
		b := col[r]
		histG[b] += g.grad[r]
		histH[b] += g.hess[r]
		histN[b]++
	}

	lambda := g.params.Lambda
	parentScore := l.sumG * l.sumG / (l.sumH + lambda)
	var (
		best             split
		accG, accH       float64
		accN             int
		total            = len(l.rows)
		minData, minHess = g.params.MinDataInLeaf, g.params.MinSumHessian
	)
	for b := 0; b < nb-1; b++ {
		accG += histG[b]
		accH += histH[b]
		accN += histN[b]
		rG, rH, rN := l.sumG-accG, l.sumH-accH, total-accN
		if accN < minData || rN < minData {
			continue
		}
		if accH < minHess || rH < minHess {
			continue
		}
		gain := accG*accG/(accH+lambda) + rG*rG/(rH+lambda) - parentScore
		if gain <= 0 {
			continue
		}
		if !best.ok || gain > best.gain {
			best = split{
				ok: true, feature: f, bin: b, gain: gain,
				leftG: accG, leftH: accH, leftCount: accN,
				rightG: rG, rightH: rH, rightCount: rN,
			}
		}
	}
	return best
}
