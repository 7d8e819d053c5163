package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/sfm/dataset"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"sfm"}, args...))
	return out.String(), err
}

func TestPipeline(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dataset")

	out, err := runApp(t, "synthetic", "--shots", "6", "--points", "200", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "wrote 6 images")

	out, err = runApp(t, "create-tracks", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "in 6 images")

	logPath := filepath.Join(dir, "sfm.log")
	out, err = runApp(t, "--log-file", logPath, "reconstruct", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "SHOTS")
	_, err = os.Stat(logPath)
	test.That(t, err, test.ShouldBeNil)
	d, err := dataset.Load(dir)
	test.That(t, err, test.ShouldBeNil)
	recs, err := d.Reconstructions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, recs, test.ShouldNotBeEmpty)
	test.That(t, recs[0].NumShots(), test.ShouldBeGreaterThan, 2)
	test.That(t, Residuals(recs[0]), test.ShouldNotBeEmpty)
	test.That(t, PointResiduals(recs[0]), test.ShouldHaveLength, recs[0].NumPoints())
	_, err = os.Stat(filepath.Join(dir, dataset.ReportsDir, "reconstruction.json"))
	test.That(t, err, test.ShouldBeNil)

	for _, name := range []string{"points.ply", "points.pcd"} {
		output := filepath.Join(dir, name)
		_, err = runApp(t, "export", "--output", output, "--cameras", "--color-by-error", dir)
		test.That(t, err, test.ShouldBeNil)
		_, err = os.Stat(output)
		test.That(t, err, test.ShouldBeNil)
	}

	plotPath := filepath.Join(dir, "residuals.png")
	_, err = runApp(t, "plot-residuals", "--output", plotPath, dir)
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(plotPath)
	test.That(t, err, test.ShouldBeNil)
}

func TestArgumentErrors(t *testing.T) {
	_, err := runApp(t, "create-tracks")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp(t, "reconstruct", filepath.Join(t.TempDir(), "missing"))
	test.That(t, err, test.ShouldNotBeNil)

	dir := t.TempDir()
	_, err = runApp(t, "synthetic", dir)
	test.That(t, err, test.ShouldBeNil)
	_, err = runApp(t, "create-tracks", dir)
	test.That(t, err, test.ShouldBeNil)
	_, err = runApp(t, "reconstruct", "--algorithm", "magic", dir)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "export", "--output", filepath.Join(dir, "points.ply"), "--index", "3", dir)
	test.That(t, err, test.ShouldNotBeNil)
}
