package search

// BruteForce is an Index that scans every point. It is exact, including in tie handling, and
// serves as a reference for the k-d tree.
type BruteForce struct {
	points [][]float64
	dims   int
}

// NewBruteForce returns a linear scan index over points.
func NewBruteForce(points [][]float64) (*BruteForce, error) {
	dims, err := checkPoints(points)
	if err != nil {
		return nil, err
	}
	return &BruteForce{points: points, dims: dims}, nil
}

// BruteForceBuilder is a Builder for NewBruteForce.
func BruteForceBuilder(points [][]float64) (Index, error) {
	return NewBruteForce(points)
}

// Len returns the number of indexed points.
func (b *BruteForce) Len() int { return len(b.points) }

// Dims returns the point dimension.
func (b *BruteForce) Dims() int { return b.dims }

// NearestK returns up to k nearest points.
func (b *BruteForce) NearestK(query []float64, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	all := b.all(query)
	sortNeighbors(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// WithinRadius returns every point within radius of the query.
func (b *BruteForce) WithinRadius(query []float64, radius float64) []Neighbor {
	if radius < 0 {
		return nil
	}
	limit := radius * radius
	var out []Neighbor
	for i, p := range b.points {
		if d := SqDist(query, p); d <= limit {
			out = append(out, Neighbor{Index: i, SqDist: d})
		}
	}
	sortNeighbors(out)
	return out
}

func (b *BruteForce) all(query []float64) []Neighbor {
	out := make([]Neighbor, len(b.points))
	for i, p := range b.points {
		out[i] = Neighbor{Index: i, SqDist: SqDist(query, p)}
	}
	return out
}
