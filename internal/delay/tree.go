package delay

import (
	"sort"
)

// Node is one split or leaf of a regression tree.
// Leaves have Left == Right == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree stored as a flat node slice rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

type treeParams struct {
	maxDepth int
	minSplit int
	minLeaf  int
}

// fitTree grows a least-squares regression tree over the rows in idx.
func fitTree(X [][]float64, target []float64, idx []int, p treeParams) *Tree {
	t := &Tree{}
	t.grow(X, target, idx, 0, p)
	return t
}

func (t *Tree) grow(X [][]float64, target []float64, idx []int, depth int, p treeParams) int {
	self := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Left: -1, Right: -1, Value: mean(target, idx)})

	if depth >= p.maxDepth || len(idx) < p.minSplit {
		return self
	}

	feature, threshold, ok := bestSplit(X, target, idx, p.minLeaf)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := t.grow(X, target, left, depth+1, p)
	r := t.grow(X, target, right, depth+1, p)

	n := &t.Nodes[self]
	n.Feature = feature
	n.Threshold = threshold
	n.Left = l
	n.Right = r
	return self
}

// bestSplit scans every feature for the threshold that most reduces the
// squared error. Thresholds sit halfway between adjacent distinct values.
func bestSplit(X [][]float64, target []float64, idx []int, minLeaf int) (int, float64, bool) {
	n := len(idx)
	if minLeaf < 1 {
		minLeaf = 1
	}
	if n < 2*minLeaf {
		return 0, 0, false
	}

	var total float64
	for _, i := range idx {
		total += target[i]
	}
	parent := total * total / float64(n)

	bestGain := 1e-12
	bestFeature, bestThreshold := 0, 0.0
	found := false

	order := make([]int, n)
	width := len(X[idx[0]])
	for f := 0; f < width; f++ {
		copy(order, idx)
		sort.SliceStable(order, func(a, b int) bool {
			return X[order[a]][f] < X[order[b]][f]
		})

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += target[order[k-1]]
			if k < minLeaf || n-k < minLeaf {
				continue
			}
			lo, hi := X[order[k-1]][f], X[order[k]][f]
			if lo == hi {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(k) + rightSum*rightSum/float64(n-k) - parent
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}

// Predict walks the tree for one feature vector.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the longest root-to-leaf edge count.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Left < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

func mean(v []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		s += v[i]
	}
	return s / float64(len(idx))
}
