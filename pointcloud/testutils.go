package pointcloud

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
)

// SurfaceHeight is the height field sampled by MakeTestSurface: smooth, curved in both
// directions and without symmetries, so local descriptors are distinctive.
func SurfaceHeight(x, y float64) float64 {
	return 4*math.Sin(x/6)*math.Cos(y/8) + 2*math.Sin((x+0.5*y)/11) + 0.03*x*x/10
}

// MakeTestSurface samples SurfaceHeight on an n by n grid with unit spacing. Point x*n+y is at
// (x, y, SurfaceHeight(x, y)).
func MakeTestSurface(n int) *BasicPointCloud {
	pc := NewWithPrealloc(n * n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float64(i), float64(j)
			pc.Append(r3.Vector{X: x, Y: y, Z: SurfaceHeight(x, y)}, nil)
		}
	}
	return pc
}

// MakeRandomBox returns n points uniformly distributed in the box [min, max].
func MakeRandomBox(n int, minPt, maxPt r3.Vector, seed int64) *BasicPointCloud {
	rnd := rand.New(rand.NewSource(seed))
	size := maxPt.Sub(minPt)
	pc := NewWithPrealloc(n)
	for i := 0; i < n; i++ {
		pc.Append(r3.Vector{
			X: minPt.X + rnd.Float64()*size.X,
			Y: minPt.Y + rnd.Float64()*size.Y,
			Z: minPt.Z + rnd.Float64()*size.Z,
		}, nil)
	}
	return pc
}

// AddGaussianNoise returns a copy of cloud with zero mean noise of deviation sigma added to every
// finite coordinate.
func AddGaussianNoise(cloud PointCloud, sigma float64, seed int64) PointCloud {
	rnd := rand.New(rand.NewSource(seed))
	return Transform(cloud, func(p r3.Vector) r3.Vector {
		return p.Add(r3.Vector{X: rnd.NormFloat64() * sigma, Y: rnd.NormFloat64() * sigma, Z: rnd.NormFloat64() * sigma})
	})
}
