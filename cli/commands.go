package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/sfm/dataset"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/pointcloud"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/synthetic"
	"go.viam.com/sfm/tracking"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger returns the logger of a command and the closer of its log file.
func newLogger(c *cli.Context) (logging.Logger, io.Closer) {
	if path := c.Path(FlagLogFile); path != "" {
		level := logging.INFO
		if c.Bool(FlagDebug) {
			level = logging.DEBUG
		}
		return logging.NewLoggerWithFile("sfm", level, path)
	}
	if c.Bool(FlagDebug) {
		return logging.NewDebugLogger("sfm"), nopCloser{}
	}
	return logging.NewLogger("sfm"), nopCloser{}
}

func loadDataset(c *cli.Context) (*dataset.Dir, error) {
	if c.NArg() != 1 {
		return nil, errors.New("expected exactly one dataset path argument")
	}
	return dataset.Load(c.Args().First())
}

func printf(c *cli.Context, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(c.App.Writer, format+"\n", a...)
}

// CreateTracksAction links the matches of the dataset into tracks and saves them.
func CreateTracksAction(c *cli.Context) error {
	d, err := loadDataset(c)
	if err != nil {
		return err
	}
	logger, closer := newLogger(c)
	defer utils.UncheckedErrorFunc(closer.Close)

	matches, err := d.Matches()
	if err != nil {
		return err
	}
	features := map[string]tracking.ImageFeatures{}
	for _, image := range d.Images() {
		f, err := d.Features(image)
		if err != nil {
			return errors.Wrapf(err, "cannot read features of %s", image)
		}
		features[image] = f
	}
	cfg := d.Config()
	tm := tracking.CreateTracksManager(features, matches, tracking.TrackOptions{
		MinLength:         cfg.MinTrackLength,
		DepthStdDeviation: cfg.DepthStdDeviation,
	}, logger)
	if err := d.SaveTracksManager(tm); err != nil {
		return err
	}
	printf(c, "%d tracks in %d images", tm.NumTracks(), tm.NumShots())
	return nil
}

// ReconstructAction reconstructs the saved tracks of the dataset and saves the
// reconstructions and the report.
func ReconstructAction(c *cli.Context) error {
	d, err := loadDataset(c)
	if err != nil {
		return err
	}
	logger, closer := newLogger(c)
	defer utils.UncheckedErrorFunc(closer.Close)
	tm, err := d.TracksManager()
	if err != nil {
		return err
	}
	r, err := sfm.New(d, logger)
	if err != nil {
		return err
	}

	var recs []*reconstruction.Reconstruction
	switch algorithm := c.String(FlagAlgorithm); algorithm {
	case algorithmIncremental:
		var report sfm.Report
		recs, report, err = r.IncrementalReconstruction(c.Context, tm)
		if saveErr := d.SaveReport("reconstruction", report); saveErr != nil {
			logger.Warnw("cannot save report", "error", saveErr)
		}
	case algorithmTriangulation:
		var rec *reconstruction.Reconstruction
		var report sfm.TriangulationReport
		rec, report, err = r.TriangulationReconstruction(c.Context, tm)
		recs = []*reconstruction.Reconstruction{rec}
		if saveErr := d.SaveReport("reconstruction", report); saveErr != nil {
			logger.Warnw("cannot save report", "error", saveErr)
		}
	default:
		return errors.Errorf("algorithm must be %s or %s, got %s", algorithmIncremental, algorithmTriangulation, algorithm)
	}
	if err != nil {
		return err
	}
	if err := d.SaveReconstructions(recs); err != nil {
		return err
	}
	printf(c, "%s", summaryTable(recs))
	return nil
}

// summaryTable renders the size of each reconstruction.
func summaryTable(recs []*reconstruction.Reconstruction) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Shots", "Points", "Cameras", "Mean residual"})
	for i, rec := range recs {
		mean := 0.0
		if residuals := Residuals(rec); len(residuals) > 0 {
			mean = floats.Sum(residuals) / float64(len(residuals))
		}
		t.AppendRow(table.Row{i, rec.NumShots(), rec.NumPoints(), len(rec.Cameras()), fmt.Sprintf("%.5f", mean)})
	}
	return t.Render()
}

func selectReconstruction(c *cli.Context, d *dataset.Dir) (*reconstruction.Reconstruction, error) {
	recs, err := d.Reconstructions()
	if err != nil {
		return nil, err
	}
	index := c.Int(FlagIndex)
	if index < 0 || index >= len(recs) {
		return nil, errors.Errorf("reconstruction index %d out of range, dataset has %d", index, len(recs))
	}
	return recs[index], nil
}

// ExportAction writes the points of a saved reconstruction as a point cloud file.
func ExportAction(c *cli.Context) error {
	d, err := loadDataset(c)
	if err != nil {
		return err
	}
	rec, err := selectReconstruction(c, d)
	if err != nil {
		return err
	}
	var cloud *pointcloud.PointCloud
	if c.Bool(FlagColorByError) {
		cloud = pointcloud.FromReconstructionColoredBy(rec, PointResiduals(rec), c.Bool(FlagCameras))
	} else {
		cloud = pointcloud.FromReconstruction(rec, c.Bool(FlagCameras))
	}
	if err := pointcloud.WriteFile(cloud, c.Path(FlagOutput)); err != nil {
		return err
	}
	printf(c, "wrote %d points to %s", cloud.Size(), c.Path(FlagOutput))
	return nil
}

// Residuals returns the norms of the reprojection errors of every observation of rec, in
// normalized image coordinates.
func Residuals(rec *reconstruction.Reconstruction) plotter.Values {
	var values plotter.Values
	for _, shotID := range rec.ShotIDs() {
		shot := rec.Shot(shotID)
		for pointID, obs := range shot.Observations() {
			if !rec.HasPoint(pointID) {
				continue
			}
			values = append(values, shot.Project(rec.Point(pointID).Coordinates).Sub(obs.Point).Norm())
		}
	}
	return values
}

// PointResiduals returns the mean reprojection error norm of each observed point of rec.
func PointResiduals(rec *reconstruction.Reconstruction) map[string]float64 {
	out := map[string]float64{}
	for id, p := range rec.Points() {
		observations := p.Observations()
		if len(observations) == 0 {
			continue
		}
		sum := 0.0
		for shotID, obs := range observations {
			sum += rec.Shot(shotID).Project(p.Coordinates).Sub(obs.Point).Norm()
		}
		out[id] = sum / float64(len(observations))
	}
	return out
}

// PlotResidualsAction saves the histogram of the reprojection errors of a saved
// reconstruction.
func PlotResidualsAction(c *cli.Context) error {
	d, err := loadDataset(c)
	if err != nil {
		return err
	}
	rec, err := selectReconstruction(c, d)
	if err != nil {
		return err
	}
	values := Residuals(rec)
	if len(values) == 0 {
		return errors.New("reconstruction has no observations")
	}

	p := plot.New()
	p.Title.Text = "Reprojection errors"
	p.X.Label.Text = "error (normalized image units)"
	p.Y.Label.Text = "observations"
	hist, err := plotter.NewHist(values, c.Int(FlagBins))
	if err != nil {
		return err
	}
	p.Add(hist)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, c.Path(FlagOutput)); err != nil {
		return err
	}
	if err := histogram.Fprint(c.App.Writer, histogram.Hist(c.Int(FlagBins), values), histogram.Linear(40)); err != nil {
		return err
	}
	printf(c, "plotted %d residuals to %s", len(values), c.Path(FlagOutput))
	return nil
}

// SyntheticAction writes the inputs of a synthetic scene into a dataset directory.
func SyntheticAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one dataset path argument")
	}
	path := c.Args().First()
	if err := os.MkdirAll(path, 0o750); err != nil {
		return err
	}
	d, err := dataset.Load(path)
	if err != nil {
		return err
	}

	opts := synthetic.DefaultOptions()
	opts.NumShots = c.Int(FlagShots)
	opts.NumPoints = c.Int(FlagPoints)
	opts.NumGCPs = c.Int(FlagControlPoint)
	opts.Seed = c.Int64(FlagSeed)
	scene := synthetic.Generate(opts)
	if err := d.Export(scene.DataSet(d.Config())); err != nil {
		return err
	}
	printf(c, "wrote %d images and %d points to %s", len(scene.Poses), len(scene.Points), path)
	return nil
}
