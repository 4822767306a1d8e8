package recognition

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/corrgroup/correspondence"
	"go.viam.com/corrgroup/grouping"
	"go.viam.com/corrgroup/pointcloud"
)

// Result is everything a run produced. Config holds the distances after scaling.
type Result struct {
	Resolution      float64
	Config          Config
	Model           *Surface
	Scene           *Surface
	Correspondences []correspondence.Correspondence
	Instances       []grouping.PoseCluster
	Timings         []StageTiming
}

// String prints a summary line followed by a table of instances with columns of votes, inlier
// count, distinct model keypoints, rotation and translation.
func (res *Result) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "resolution %.6f, %d model keypoints, %d scene keypoints, %d correspondences, %d instances\n",
		res.Resolution, res.Model.Keypoints().Len(), res.Scene.Keypoints().Len(),
		len(res.Correspondences), len(res.Instances))
	dists := lo.Map(res.Correspondences, func(c correspondence.Correspondence, _ int) float64 { return c.Distance })
	if median, err := stats.Median(dists); err == nil {
		fmt.Fprintf(&sb, "median descriptor distance %.4f\n", median)
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Votes", "Inliers", "Model keypoints", "Rotation", "Translation"})
	for i, inst := range res.Instances {
		modelKeypoints := lo.Uniq(lo.Map(inst.Correspondences, func(c correspondence.Correspondence, _ int) int {
			return c.ModelIndex
		}))
		tra := inst.Pose.Translation
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.2f", inst.Votes),
			len(inst.Correspondences),
			len(modelKeypoints),
			inst.Pose.Rotation.String(),
			fmt.Sprintf("X:%.4f, Y:%.4f, Z:%.4f", tra.X, tra.Y, tra.Z),
		})
	}
	sb.WriteString(t.Render())
	return sb.String()
}

// TimingTable renders the stage durations.
func (res *Result) TimingTable() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Stage", "Duration"})
	t.AppendRows(lo.Map(res.Timings, func(st StageTiming, _ int) table.Row {
		return table.Row{st.Name, st.Duration.String()}
	}))
	return t.Render()
}

// WriteArtifacts writes instance_<n>, the model transformed by each instance pose, into dir as
// PCD or, with artifact_format "las", as LAS. Keypoint clouds and a correspondence listing are
// added when the config toggles them on.
func (res *Result) WriteArtifacts(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create %q", dir)
	}
	for i, inst := range res.Instances {
		moved := pointcloud.Transform(res.Model.Cloud, inst.Pose.Transform)
		if err := res.writeCloud(moved, filepath.Join(dir, fmt.Sprintf("instance_%d", i+1)), pointcloud.PCDBinary); err != nil {
			return err
		}
	}
	if res.Config.ShowKeypoints {
		for name, s := range map[string]*Surface{"model_keypoints": res.Model, "scene_keypoints": res.Scene} {
			if err := res.writeCloud(s.Keypoints().Cloud(), filepath.Join(dir, name), pointcloud.PCDAscii); err != nil {
				return err
			}
		}
	}
	if res.Config.ShowCorrespondences {
		return res.writeCorrespondences(filepath.Join(dir, "correspondences.txt"))
	}
	return nil
}

// writeCloud writes cloud to base plus the extension of the configured format. LAS cannot hold
// non-finite points, so only the finite ones are written there.
func (res *Result) writeCloud(cloud pointcloud.PointCloud, base string, pcdType pointcloud.PCDType) error {
	var fn string
	var err error
	if res.Config.ArtifactFormat == ArtifactLAS {
		fn = base + ".las"
		finite := &pointcloud.Keypoints{Parent: cloud, Indices: pointcloud.FiniteIndices(cloud)}
		err = pointcloud.WriteToLASFile(finite.Cloud(), fn)
	} else {
		fn = base + ".pcd"
		err = pointcloud.WriteToPCDFile(cloud, fn, pcdType)
	}
	return errors.Wrapf(err, "cannot write %q", fn)
}

// writeCorrespondences lists one correspondence per line as
// "model_index scene_index distance mx my mz sx sy sz", keypoint positions included.
func (res *Result) writeCorrespondences(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", fn)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	modelKeypoints, sceneKeypoints := res.Model.Keypoints(), res.Scene.Keypoints()
	for _, c := range res.Correspondences {
		m, s := modelKeypoints.Point(c.ModelIndex), sceneKeypoints.Point(c.SceneIndex)
		if _, err := fmt.Fprintf(w, "%d %d %g %g %g %g %g %g %g\n",
			c.ModelIndex, c.SceneIndex, c.Distance, m.X, m.Y, m.Z, s.X, s.Y, s.Z); err != nil {
			return err
		}
	}
	return w.Flush()
}
