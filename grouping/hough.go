// Package grouping clusters model to scene correspondences into rigid poses by letting each
// correspondence vote for the position of the model's reference point in the scene.
package grouping

import (
	"context"
	"math"
	"slices"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/corrgroup/correspondence"
	"go.viam.com/corrgroup/features"
	"go.viam.com/corrgroup/logging"
	"go.viam.com/corrgroup/pointcloud"
	"go.viam.com/corrgroup/spatialmath"
	"go.viam.com/corrgroup/utils"
)

// Config controls Hough voting.
type Config struct {
	// BinSize is the edge length of a cubic accumulator bin.
	BinSize float64
	// Threshold is the vote total a bin must strictly exceed to yield a cluster.
	Threshold float64
	// UseInterpolation spreads every vote trilinearly over the 8 bins around it.
	UseInterpolation bool
	// UseDistanceWeight weights a vote by 1/(1+d), d being the descriptor distance.
	UseDistanceWeight bool
}

// DefaultConfig returns a config with interpolation on and unit vote weights.
func DefaultConfig(binSize, threshold float64) Config {
	return Config{BinSize: binSize, Threshold: threshold, UseInterpolation: true}
}

// PoseCluster is a group of geometrically consistent correspondences and the rigid transform
// taking the model onto the scene that they support.
type PoseCluster struct {
	Pose spatialmath.Pose
	// Correspondences are the inliers of Pose among the bin's voters.
	Correspondences []correspondence.Correspondence
	Votes           float64
	// Bin is the accumulator bin the cluster was read from.
	Bin pointcloud.VoxelCoords
}

// Hough3DGrouper finds pose clusters with a 3D Hough transform.
type Hough3DGrouper struct {
	cfg    Config
	logger logging.Logger
}

// NewHough3DGrouper returns a grouper for cfg.
func NewHough3DGrouper(cfg Config, logger logging.Logger) (*Hough3DGrouper, error) {
	if !(cfg.BinSize > 0) || math.IsInf(cfg.BinSize, 0) {
		return nil, errors.Errorf("bin size must be positive and finite, got %v", cfg.BinSize)
	}
	if cfg.Threshold < 0 || math.IsNaN(cfg.Threshold) {
		return nil, errors.Errorf("threshold must not be negative, got %v", cfg.Threshold)
	}
	return &Hough3DGrouper{cfg: cfg, logger: logger}, nil
}

// Config returns the grouper's configuration.
func (g *Hough3DGrouper) Config() Config {
	return g.cfg
}

// share is one bin's part of a single vote.
type share struct {
	corr   int
	bin    pointcloud.VoxelCoords
	weight float64
}

type accumulatorBin struct {
	total  float64
	voters []int
}

// Recognize groups corrs. Frames are indexed like their keypoints. Correspondences touching an
// invalid frame do not vote. A cluster keeps the voters of its bin that agree on one pose, and
// its Votes stay the bin total. The result is ordered by descending votes, then bin.
func (g *Hough3DGrouper) Recognize(
	ctx context.Context,
	modelKeypoints, sceneKeypoints []r3.Vector,
	modelFrames, sceneFrames []features.ReferenceFrame,
	corrs []correspondence.Correspondence,
) ([]PoseCluster, error) {
	if len(modelFrames) != len(modelKeypoints) || len(sceneFrames) != len(sceneKeypoints) {
		return nil, errors.Errorf(
			"frame counts (%d model, %d scene) do not match keypoint counts (%d model, %d scene)",
			len(modelFrames), len(sceneFrames), len(modelKeypoints), len(sceneKeypoints))
	}
	for i, c := range corrs {
		if c.ModelIndex < 0 || c.ModelIndex >= len(modelKeypoints) ||
			c.SceneIndex < 0 || c.SceneIndex >= len(sceneKeypoints) {
			return nil, errors.Errorf("correspondence %d (%d, %d) is out of range", i, c.ModelIndex, c.SceneIndex)
		}
	}

	reference, ok := finiteCentroid(modelKeypoints)
	if !ok {
		g.logger.Debug("no finite model keypoints, nothing to vote for")
		return []PoseCluster{}, nil
	}

	votes := make([]r3.Vector, len(corrs))
	voted := make([]bool, len(corrs))
	if err := utils.ParallelForEach(ctx, len(corrs), func(i int) {
		c := corrs[i]
		mf, sf := modelFrames[c.ModelIndex], sceneFrames[c.SceneIndex]
		if !mf.Valid || !sf.Valid {
			return
		}
		local := mf.ToLocal(reference.Sub(modelKeypoints[c.ModelIndex]))
		v := sceneKeypoints[c.SceneIndex].Add(sf.FromLocal(local))
		if pointcloud.IsFinite(v) {
			votes[i], voted[i] = v, true
		}
	}); err != nil {
		return nil, err
	}

	origin, ok := voteOrigin(votes, voted, g.cfg.BinSize)
	if !ok {
		g.logger.Debugw("no correspondence could vote", "correspondences", len(corrs))
		return []PoseCluster{}, nil
	}

	shares, err := g.castVotes(ctx, corrs, votes, voted, origin)
	if err != nil {
		return nil, err
	}
	accumulator := map[pointcloud.VoxelCoords]*accumulatorBin{}
	for _, groupShares := range shares {
		for _, s := range groupShares {
			b, ok := accumulator[s.bin]
			if !ok {
				b = &accumulatorBin{}
				accumulator[s.bin] = b
			}
			b.total += s.weight
			b.voters = append(b.voters, s.corr)
		}
	}

	in := &votingInput{
		modelKeypoints: modelKeypoints,
		sceneKeypoints: sceneKeypoints,
		modelFrames:    modelFrames,
		sceneFrames:    sceneFrames,
		corrs:          corrs,
	}
	peaks := g.peaks(accumulator)
	clusters := make([]PoseCluster, 0, len(peaks))
	for _, key := range peaks {
		b := accumulator[key]
		inliers, pose, err := g.fitCluster(in, b.voters)
		if err != nil {
			g.logger.Debugw("dropping cluster", "bin", key, "votes", b.total, "error", err)
			continue
		}
		if len(inliers) < len(b.voters) {
			g.logger.Debugw("rejected inconsistent voters", "bin", key, "voters", len(b.voters), "inliers", len(inliers))
		}
		members := make([]correspondence.Correspondence, len(inliers))
		for i, ci := range inliers {
			members[i] = corrs[ci]
		}
		clusters = append(clusters, PoseCluster{Pose: pose, Correspondences: members, Votes: b.total, Bin: key})
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Votes != clusters[j].Votes {
			return clusters[i].Votes > clusters[j].Votes
		}
		return clusters[i].Bin.Less(clusters[j].Bin)
	})
	g.logger.Debugw("hough voting done",
		"correspondences", len(corrs), "bins", len(accumulator), "clusters", len(clusters))
	return clusters, nil
}

// votingInput is the data a Recognize call clusters.
type votingInput struct {
	modelKeypoints, sceneKeypoints []r3.Vector
	modelFrames, sceneFrames       []features.ReferenceFrame
	corrs                          []correspondence.Correspondence
}

// hypothesis is the pose implied by the frames of correspondence ci alone.
func (in *votingInput) hypothesis(ci int) spatialmath.Pose {
	c := in.corrs[ci]
	model := in.modelFrames[c.ModelIndex].Pose(in.modelKeypoints[c.ModelIndex])
	scene := in.sceneFrames[c.SceneIndex].Pose(in.sceneKeypoints[c.SceneIndex])
	return scene.Compose(model.Invert())
}

// agreeing returns the candidates whose model keypoint pose places within tol of their scene
// keypoint, in candidate order.
func (in *votingInput) agreeing(pose spatialmath.Pose, candidates []int, tol float64) []int {
	var out []int
	for _, ci := range candidates {
		c := in.corrs[ci]
		if pose.Transform(in.modelKeypoints[c.ModelIndex]).Sub(in.sceneKeypoints[c.SceneIndex]).Norm() <= tol {
			out = append(out, ci)
		}
	}
	return out
}

func (in *votingInput) fit(members []int) (spatialmath.Pose, error) {
	src := make([]r3.Vector, len(members))
	dst := make([]r3.Vector, len(members))
	for i, ci := range members {
		src[i] = in.modelKeypoints[in.corrs[ci].ModelIndex]
		dst[i] = in.sceneKeypoints[in.corrs[ci].SceneIndex]
	}
	return spatialmath.EstimateRigidTransform(src, dst)
}

// fitCluster finds the consensus among the voters of one bin and fits its pose. Each voter's
// frames propose a pose; the proposal that places the most voters within BinSize wins, ties going
// to the earlier voter. The least squares pose of the winners is refitted once over the voters it
// places within BinSize.
func (g *Hough3DGrouper) fitCluster(in *votingInput, voters []int) ([]int, spatialmath.Pose, error) {
	var best []int
	for _, ci := range voters {
		if agree := in.agreeing(in.hypothesis(ci), voters, g.cfg.BinSize); len(agree) > len(best) {
			best = agree
		}
	}
	pose, err := in.fit(best)
	if err != nil {
		return nil, spatialmath.Pose{}, err
	}
	if refined := in.agreeing(pose, voters, g.cfg.BinSize); !slices.Equal(refined, best) {
		if refit, err := in.fit(refined); err == nil {
			return refined, refit, nil
		}
	}
	return best, pose, nil
}

// castVotes splits every vote into bin shares. Shares are produced per parallel group and
// returned in group order, so replaying them sequentially visits correspondences in order.
func (g *Hough3DGrouper) castVotes(
	ctx context.Context,
	corrs []correspondence.Correspondence,
	votes []r3.Vector,
	voted []bool,
	origin r3.Vector,
) ([][]share, error) {
	var groupShares [][]share
	err := utils.GroupWorkParallel(
		ctx,
		len(corrs),
		func(numGroups int) {
			groupShares = make([][]share, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			local := make([]share, 0, groupSize)
			return func(memberNum, workNum int) {
					if !voted[workNum] {
						return
					}
					weight := 1.0
					if g.cfg.UseDistanceWeight {
						weight = 1 / (1 + corrs[workNum].Distance)
					}
					local = g.spread(local, workNum, votes[workNum], origin, weight)
				}, func() {
					groupShares[groupNum] = local
				}
		},
	)
	if err != nil {
		return nil, err
	}
	return groupShares, nil
}

// spread appends the shares of a single vote. Bin centres sit at half integer grid coordinates.
func (g *Hough3DGrouper) spread(dst []share, corr int, vote, origin r3.Vector, weight float64) []share {
	u := vote.Sub(origin).Mul(1 / g.cfg.BinSize)
	if !g.cfg.UseInterpolation {
		return append(dst, share{
			corr:   corr,
			bin:    pointcloud.VoxelCoords{I: floorInt(u.X), J: floorInt(u.Y), K: floorInt(u.Z)},
			weight: weight,
		})
	}

	u = u.Sub(r3.Vector{X: 0.5, Y: 0.5, Z: 0.5})
	base := pointcloud.VoxelCoords{I: floorInt(u.X), J: floorInt(u.Y), K: floorInt(u.Z)}
	frac := [3]float64{u.X - math.Floor(u.X), u.Y - math.Floor(u.Y), u.Z - math.Floor(u.Z)}
	for di := int64(0); di <= 1; di++ {
		for dj := int64(0); dj <= 1; dj++ {
			for dk := int64(0); dk <= 1; dk++ {
				w := weight * lerpWeight(frac[0], di) * lerpWeight(frac[1], dj) * lerpWeight(frac[2], dk)
				if w <= 0 {
					continue
				}
				dst = append(dst, share{
					corr:   corr,
					bin:    pointcloud.VoxelCoords{I: base.I + di, J: base.J + dj, K: base.K + dk},
					weight: w,
				})
			}
		}
	}
	return dst
}

// peaks returns the bins whose totals exceed the threshold and are not beaten by any of their
// 26 neighbours. Equal totals are won by the smaller key.
func (g *Hough3DGrouper) peaks(accumulator map[pointcloud.VoxelCoords]*accumulatorBin) []pointcloud.VoxelCoords {
	var out []pointcloud.VoxelCoords
	for key, b := range accumulator {
		if !(b.total > g.cfg.Threshold) {
			continue
		}
		isPeak := true
		for _, adj := range key.Adjacent() {
			other, ok := accumulator[adj]
			if !ok {
				continue
			}
			if other.total > b.total || (other.total == b.total && adj.Less(key)) {
				isPeak = false
				break
			}
		}
		if isPeak {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func lerpWeight(frac float64, upper int64) float64 {
	if upper == 1 {
		return frac
	}
	return 1 - frac
}

func floorInt(v float64) int64 {
	return int64(math.Floor(v))
}

// finiteCentroid divides the component sums so integer centroids come out exact.
func finiteCentroid(pts []r3.Vector) (r3.Vector, bool) {
	var sum r3.Vector
	n := 0
	for _, p := range pts {
		if pointcloud.IsFinite(p) {
			sum = sum.Add(p)
			n++
		}
	}
	if n == 0 {
		return r3.Vector{}, false
	}
	count := float64(n)
	return r3.Vector{X: sum.X / count, Y: sum.Y / count, Z: sum.Z / count}, true
}

// voteOrigin places the grid so the smallest vote on every axis sits at a bin centre.
func voteOrigin(votes []r3.Vector, voted []bool, binSize float64) (r3.Vector, bool) {
	found := false
	low := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	for i, v := range votes {
		if !voted[i] {
			continue
		}
		found = true
		low.X = math.Min(low.X, v.X)
		low.Y = math.Min(low.Y, v.Y)
		low.Z = math.Min(low.Z, v.Z)
	}
	half := binSize / 2
	return low.Sub(r3.Vector{X: half, Y: half, Z: half}), found
}
