package tracking

import (
	"encoding/csv"
	"image/color"
	"io"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

const tracksVersionHeader = "OPENSFM_TRACKS_VERSION_v2"

// WriteTracks writes the manager as tab separated rows:
// image, track, feature, x, y, scale, r, g, b, segmentation, instance.
func WriteTracks(w io.Writer, tm *TracksManager) error {
	if _, err := io.WriteString(w, tracksVersionHeader+"\n"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, shot := range tm.ShotIDs() {
		obs := tm.ShotObservations(shot)
		ids := make([]string, 0, len(obs))
		for id := range obs {
			ids = append(ids, id)
		}
		SortTrackIDs(ids)
		for _, id := range ids {
			o := obs[id]
			row := []string{
				shot, id, strconv.Itoa(o.FeatureID),
				f(o.Point.X), f(o.Point.Y), f(o.Scale),
				strconv.Itoa(int(o.Color.R)), strconv.Itoa(int(o.Color.G)), strconv.Itoa(int(o.Color.B)),
				strconv.Itoa(o.Segmentation), strconv.Itoa(o.Instance),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTracks parses the output of WriteTracks.
func ReadTracks(r io.Reader) (*TracksManager, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "cannot read tracks")
	}
	if len(records) == 0 || len(records[0]) != 1 || records[0][0] != tracksVersionHeader {
		return nil, errors.New("tracks file is missing its version header")
	}
	tm := NewTracksManager()
	for line, rec := range records[1:] {
		if len(rec) != 11 {
			return nil, errors.Errorf("tracks line %d: expected 11 columns, got %d", line+2, len(rec))
		}
		var parseErr error
		atoi := func(s string) int {
			v, err := strconv.Atoi(s)
			if err != nil && parseErr == nil {
				parseErr = err
			}
			return v
		}
		atof := func(s string) float64 {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil && parseErr == nil {
				parseErr = err
			}
			return v
		}
		obs := Observation{
			FeatureID:    atoi(rec[2]),
			Point:        r2.Point{X: atof(rec[3]), Y: atof(rec[4])},
			Scale:        atof(rec[5]),
			Color:        color.RGBA{R: uint8(atoi(rec[6])), G: uint8(atoi(rec[7])), B: uint8(atoi(rec[8])), A: 255},
			Segmentation: atoi(rec[9]),
			Instance:     atoi(rec[10]),
		}
		if parseErr != nil {
			return nil, errors.Wrapf(parseErr, "tracks line %d", line+2)
		}
		tm.AddObservation(rec[0], rec[1], obs)
	}
	return tm, nil
}
