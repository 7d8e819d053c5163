// Package cli contains the sfm command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	FlagDebug        = "debug"
	FlagLogFile      = "log-file"
	FlagColorByError = "color-by-error"
	FlagAlgorithm    = "algorithm"
	FlagOutput       = "output"
	FlagIndex        = "index"
	FlagCameras      = "cameras"
	FlagBins         = "bins"
	FlagShots        = "shots"
	FlagPoints       = "points"
	FlagControlPoint = "gcps"
	FlagSeed         = "seed"

	algorithmIncremental   = "incremental"
	algorithmTriangulation = "triangulation"
)

var app = &cli.App{
	Name:            "sfm",
	Usage:           "reconstruct cameras and points from tracked image features",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    FlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  FlagLogFile,
			Usage: "also write JSON logs to `FILE`",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "create-tracks",
			Usage:     "link the feature matches of a dataset into tracks",
			ArgsUsage: "<dataset>",
			Action:    CreateTracksAction,
		},
		{
			Name:      "reconstruct",
			Usage:     "reconstruct the tracks of a dataset",
			ArgsUsage: "<dataset>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  FlagAlgorithm,
					Value: algorithmIncremental,
					Usage: "reconstruction algorithm: incremental or triangulation",
				},
			},
			Action: ReconstructAction,
		},
		{
			Name:      "export",
			Usage:     "write the points of a reconstruction as a .pcd or .ply point cloud",
			ArgsUsage: "<dataset>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     FlagOutput,
					Required: true,
					Usage:    "output `FILE`, .pcd or .ply",
				},
				&cli.IntFlag{
					Name:  FlagIndex,
					Usage: "index of the reconstruction to export",
				},
				&cli.BoolFlag{
					Name:  FlagCameras,
					Usage: "add the camera centers to the cloud",
				},
				&cli.BoolFlag{
					Name:  FlagColorByError,
					Usage: "color the points by their mean reprojection error",
				},
			},
			Action: ExportAction,
		},
		{
			Name:      "plot-residuals",
			Usage:     "plot the histogram of the reprojection errors of a reconstruction",
			ArgsUsage: "<dataset>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     FlagOutput,
					Required: true,
					Usage:    "output image `FILE`",
				},
				&cli.IntFlag{
					Name:  FlagIndex,
					Usage: "index of the reconstruction to plot",
				},
				&cli.IntFlag{
					Name:  FlagBins,
					Value: 50,
					Usage: "number of histogram bins",
				},
			},
			Action: PlotResidualsAction,
		},
		{
			Name:      "synthetic",
			Usage:     "write a synthetic dataset of a street facade",
			ArgsUsage: "<dataset>",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  FlagShots,
					Value: 8,
					Usage: "number of images",
				},
				&cli.IntFlag{
					Name:  FlagPoints,
					Value: 300,
					Usage: "number of facade points",
				},
				&cli.IntFlag{
					Name:  FlagControlPoint,
					Usage: "number of ground control points",
				},
				&cli.Int64Flag{
					Name:  FlagSeed,
					Value: 7,
					Usage: "random seed",
				},
			},
			Action: SyntheticAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
