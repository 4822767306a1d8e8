package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// VoxelCoords stores voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// Less orders coordinates lexicographically by I, then J, then K.
func (c VoxelCoords) Less(c2 VoxelCoords) bool {
	if c.I != c2.I {
		return c.I < c2.I
	}
	if c.J != c2.J {
		return c.J < c2.J
	}
	return c.K < c2.K
}

// Adjacent returns the 26 voxel coordinates around c, in lexicographic order.
func (c VoxelCoords) Adjacent() []VoxelCoords {
	out := make([]VoxelCoords, 0, 26)
	for i := c.I - 1; i <= c.I+1; i++ {
		for j := c.J - 1; j <= c.J+1; j++ {
			for k := c.K - 1; k <= c.K+1; k++ {
				vox := VoxelCoords{i, j, k}
				if !c.IsEqual(vox) {
					out = append(out, vox)
				}
			}
		}
	}
	return out
}

// GetVoxelCoordinates computes the voxel coordinates of a point in a grid anchored at ptMin.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	p := pt.Sub(ptMin)
	return VoxelCoords{
		I: int64(math.Floor(p.X / voxelSize)),
		J: int64(math.Floor(p.Y / voxelSize)),
		K: int64(math.Floor(p.Z / voxelSize)),
	}
}

// GetVoxelCenter returns the center of the voxel with the given coordinates.
func GetVoxelCenter(coords VoxelCoords, ptMin r3.Vector, voxelSize float64) r3.Vector {
	return r3.Vector{
		X: ptMin.X + (float64(coords.I)+0.5)*voxelSize,
		Y: ptMin.Y + (float64(coords.J)+0.5)*voxelSize,
		Z: ptMin.Z + (float64(coords.K)+0.5)*voxelSize,
	}
}

// Voxel holds the cloud indices of the points that fall into one grid cell.
type Voxel struct {
	Key     VoxelCoords
	Center  r3.Vector
	Indices []int
}

// VoxelGrid partitions the finite points of a cloud into cubic cells anchored at the cloud's
// minimum bound.
type VoxelGrid struct {
	Voxels    map[VoxelCoords]*Voxel
	VoxelSize float64
	Origin    r3.Vector
}

// NewVoxelGridFromPointCloud creates and fills a VoxelGrid from the finite points of pc.
func NewVoxelGridFromPointCloud(pc PointCloud, voxelSize float64) *VoxelGrid {
	grid := &VoxelGrid{
		Voxels:    make(map[VoxelCoords]*Voxel),
		VoxelSize: voxelSize,
		Origin:    pc.MetaData().Min(),
	}
	pc.Iterate(0, 0, func(i int, pt r3.Vector, _ Data) bool {
		if !IsFinite(pt) {
			return true
		}
		coords := GetVoxelCoordinates(pt, grid.Origin, voxelSize)
		vox, ok := grid.Voxels[coords]
		if !ok {
			vox = &Voxel{Key: coords, Center: GetVoxelCenter(coords, grid.Origin, voxelSize)}
			grid.Voxels[coords] = vox
		}
		vox.Indices = append(vox.Indices, i)
		return true
	})
	return grid
}

// GetVoxelFromKey returns a pointer to a voxel from a VoxelCoords key.
func (vg *VoxelGrid) GetVoxelFromKey(coords VoxelCoords) *Voxel {
	return vg.Voxels[coords]
}

// SortedKeys returns the occupied voxel coordinates in lexicographic order.
func (vg *VoxelGrid) SortedKeys() []VoxelCoords {
	keys := make([]VoxelCoords, 0, len(vg.Voxels))
	for k := range vg.Voxels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
