package search

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a kdtree.Comparable that remembers its position in the input.
type indexedPoint struct {
	vec []float64
	idx int
}

func (p *indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.vec[d] - c.(*indexedPoint).vec[d]
}

func (p *indexedPoint) Dims() int {
	return len(p.vec)
}

func (p *indexedPoint) Distance(c kdtree.Comparable) float64 {
	return SqDist(p.vec, c.(*indexedPoint).vec)
}

// indexedPoints satisfies kdtree.Interface. Pivoting fully sorts on the plane with index
// tie breaks so the tree shape only depends on the input.
type indexedPoints []*indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                       { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	sort.Slice(p, func(i, j int) bool {
		if p[i].vec[d] != p[j].vec[d] {
			return p[i].vec[d] < p[j].vec[d]
		}
		return p[i].idx < p[j].idx
	})
	return len(p) / 2
}

// KDTree is an Index backed by a gonum k-d tree.
type KDTree struct {
	tree *kdtree.Tree
	n    int
	dims int
}

// NewKDTree builds a k-d tree over points. Points must be finite and share a dimension.
func NewKDTree(points [][]float64) (*KDTree, error) {
	dims, err := checkPoints(points)
	if err != nil {
		return nil, err
	}
	entries := make(indexedPoints, len(points))
	for i, p := range points {
		entries[i] = &indexedPoint{vec: p, idx: i}
	}
	return &KDTree{tree: kdtree.New(entries, false), n: len(points), dims: dims}, nil
}

// KDTreeBuilder is a Builder for NewKDTree.
func KDTreeBuilder(points [][]float64) (Index, error) {
	return NewKDTree(points)
}

// Len returns the number of indexed points.
func (t *KDTree) Len() int { return t.n }

// Dims returns the point dimension.
func (t *KDTree) Dims() int { return t.dims }

// NearestK returns up to k nearest points.
func (t *KDTree) NearestK(query []float64, k int) []Neighbor {
	if k <= 0 || t.n == 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keeper, &indexedPoint{vec: query, idx: -1})
	return t.collect(keeper.Heap)
}

// WithinRadius returns every point within radius of the query.
func (t *KDTree) WithinRadius(query []float64, radius float64) []Neighbor {
	if radius < 0 || t.n == 0 {
		return nil
	}
	keeper := kdtree.NewDistKeeper(radius * radius)
	t.tree.NearestSet(keeper, &indexedPoint{vec: query, idx: -1})
	return t.collect(keeper.Heap)
}

func (t *KDTree) collect(heap kdtree.Heap) []Neighbor {
	var out []Neighbor
	for _, c := range heap {
		// Sentinels carry no point.
		if c.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: c.Comparable.(*indexedPoint).idx, SqDist: c.Dist})
	}
	sortNeighbors(out)
	return out
}
