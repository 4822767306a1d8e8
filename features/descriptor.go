package features

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/corrgroup/pointcloud"
	"go.viam.com/corrgroup/utils"
)

// Descriptor is a fixed length local shape signature. A descriptor whose first element is NaN
// is invalid and must not be matched.
type Descriptor []float64

// Valid reports whether the descriptor can be compared.
func (d Descriptor) Valid() bool {
	return len(d) > 0 && !math.IsNaN(d[0])
}

// SqDist is the squared Euclidean distance between two descriptors of the same length.
func (d Descriptor) SqDist(other Descriptor) float64 {
	diff := make([]float64, len(d))
	floats.SubTo(diff, d, other)
	return floats.Dot(diff, diff)
}

// InvalidDescriptor returns an invalid descriptor of length n.
func InvalidDescriptor(n int) Descriptor {
	d := make(Descriptor, n)
	d[0] = math.NaN()
	return d
}

// DescriptorEngine computes one descriptor per keypoint of a surface.
type DescriptorEngine interface {
	// Compute returns descriptors in keypoint order. Keypoints without a usable support get
	// invalid descriptors.
	Compute(ctx context.Context, surface *Surface) ([]Descriptor, error)
	// Length is the number of elements of every descriptor.
	Length() int
}

const (
	shotAzimuthBins   = 8
	shotElevationBins = 2
	shotRadialBins    = 2
	shotVolumes       = shotAzimuthBins * shotElevationBins * shotRadialBins
	shotCosineBins    = 11
	// SHOTLength is the length of a SHOTEngine descriptor.
	SHOTLength = shotVolumes * shotCosineBins
)

// SHOTEngine computes signatures of histograms of orientations. The support sphere of Radius is
// split into 32 volumes in the keypoint's local frame (azimuth, elevation, inner or outer shell);
// each volume holds a histogram of the cosine between neighbour normals and the frame's Z axis.
// The result is L2 normalised, so descriptor distances fall in [0, 2].
type SHOTEngine struct {
	Radius       float64
	MinNeighbors int
}

// NewSHOTEngine returns an engine with the default minimum support.
func NewSHOTEngine(radius float64) *SHOTEngine {
	return &SHOTEngine{Radius: radius, MinNeighbors: DefaultMinNeighbors}
}

// Length returns SHOTLength.
func (e *SHOTEngine) Length() int {
	return SHOTLength
}

// Compute returns one descriptor per keypoint.
func (e *SHOTEngine) Compute(ctx context.Context, surface *Surface) ([]Descriptor, error) {
	frames := &FrameEstimator{Radius: e.Radius, MinNeighbors: e.MinNeighbors}
	out := make([]Descriptor, surface.Keypoints.Len())
	if err := utils.ParallelForEach(ctx, len(out), func(i int) {
		nb := surface.neighborhood(i, e.Radius)
		out[i] = e.describe(nb, frames.frameFor(nb), surface.Normals)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *SHOTEngine) describe(nb neighborhood, frame ReferenceFrame, normals []r3.Vector) Descriptor {
	if !frame.Valid {
		return InvalidDescriptor(SHOTLength)
	}
	hist := make(Descriptor, SHOTLength)
	sectorWidth := 2 * math.Pi / shotAzimuthBins
	for i, o := range nb.offsets {
		n := normals[nb.indices[i]]
		if !pointcloud.IsValidNormal(n) {
			continue
		}
		local := frame.ToLocal(o)

		sector := int(math.Floor((math.Atan2(local.Y, local.X) + math.Pi) / sectorWidth))
		sector = max(0, min(sector, shotAzimuthBins-1))
		elevation := 0
		if local.Z > 0 {
			elevation = 1
		}
		radial := 0
		if nb.dists[i] > e.Radius/2 {
			radial = 1
		}
		volume := (sector*shotElevationBins+elevation)*shotRadialBins + radial

		cosine := math.Min(1, math.Abs(n.Normalize().Dot(frame.Z)))
		pos := cosine * (shotCosineBins - 1)
		bin := int(math.Floor(pos))
		frac := pos - float64(bin)
		if bin >= shotCosineBins-1 {
			bin, frac = shotCosineBins-1, 0
		}
		base := volume * shotCosineBins
		hist[base+bin] += 1 - frac
		if frac > 0 {
			hist[base+bin+1] += frac
		}
	}
	norm := floats.Norm(hist, 2)
	if norm == 0 {
		return InvalidDescriptor(SHOTLength)
	}
	floats.Scale(1/norm, hist)
	return hist
}
