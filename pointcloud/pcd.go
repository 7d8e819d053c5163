package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = iota
	// PCDBinary binary format for pcd.
	PCDBinary
	// PCDCompressed binary compressed format for pcd.
	PCDCompressed
)

// defaultPCDColor is written for uncolored points of a colored cloud.
const defaultPCDColor = 255 << 16

func colorToPCDInt(d Data) int {
	if !d.HasColor {
		return defaultPCDColor
	}
	return int(d.Color.R)<<16 | int(d.Color.G)<<8 | int(d.Color.B)
}

func pcdIntToColor(c int) color.RGBA {
	return color.RGBA{R: uint8(0xFF & (c >> 16)), G: uint8(0xFF & (c >> 8)), B: uint8(0xFF & c), A: 255}
}

// ToPCD writes the cloud in the pcd format, with an rgb field when any point is colored.
func ToPCD(cloud *PointCloud, out io.Writer, outputType PCDType) error {
	hasColor := cloud.MetaData().HasColor
	header := "VERSION .7\n"
	if hasColor {
		header += "FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F I\nCOUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n"
	}
	header += fmt.Sprintf("WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", cloud.Size(), cloud.Size())
	switch outputType {
	case PCDAscii:
		header += "DATA ascii\n"
	case PCDBinary:
		header += "DATA binary\n"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType, hasColor)
}

func writePCDData(cloud *PointCloud, out io.Writer, pcdType PCDType, hasColor bool) error {
	var err error
	buf := make([]byte, 16)
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		switch pcdType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], uint32(colorToPCDInt(d)))
				n = 16
			}
			_, err = out.Write(buf[:n])
		case PCDAscii:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", p.X, p.Y, p.Z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
			}
		}
		return err == nil
	})
	return err
}

type pcdHeader struct {
	fields int
	size   []int
	types  []string
	width  int
	height int
	points int
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parseInts(tokens []string, field string) ([]int, error) {
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.Atoi(token)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s field %s", field, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	var err error
	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = 3
		case "x y z rgb":
			header.fields = 4
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE", "COUNT":
		if len(tokens) != header.fields {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
		var sizes []int
		if sizes, err = parseInts(tokens, name); err != nil {
			return err
		}
		if name == "SIZE" {
			header.size = sizes
		}
	case "TYPE":
		if len(tokens) != header.fields {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.types = tokens
	case "WIDTH":
		header.width, err = strconv.Atoi(value)
	case "HEIGHT":
		header.height, err = strconv.Atoi(value)
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		if header.points, err = strconv.Atoi(value); err != nil {
			break
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data %s", value)
		}
	}
	return errors.Wrapf(err, "invalid %s field %s", name, value)
}

// ReadPCD reads an ascii or binary pcd written by ToPCD.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	for index := 0; index < len(pcdHeaderFields); {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", index)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, index, &header); err != nil {
			return nil, err
		}
		index++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	pc := NewWithPrealloc(header.points)
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) != header.fields {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		values := make([]float64, len(tokens))
		for j, token := range tokens {
			if values[j], err = strconv.ParseFloat(token, 64); err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		p, d := sliceToPoint(values)
		pc.Set(p, d)
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	pc := NewWithPrealloc(header.points)
	buf := make([]byte, 4)
	for i := 0; i < header.points; i++ {
		values := make([]float64, header.fields)
		for j := range values {
			if header.size[j] != 4 {
				return nil, errors.Errorf("unsupported field size %d", header.size[j])
			}
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "cannot read point %d", i)
			}
			bits := binary.LittleEndian.Uint32(buf)
			if header.types[j] == "F" {
				values[j] = float64(math.Float32frombits(bits))
			} else {
				values[j] = float64(bits)
			}
		}
		p, d := sliceToPoint(values)
		pc.Set(p, d)
	}
	return pc, nil
}

func sliceToPoint(values []float64) (r3.Vector, Data) {
	p := r3.Vector{X: values[0], Y: values[1], Z: values[2]}
	if len(values) == 4 {
		return p, NewColoredData(pcdIntToColor(int(values[3])))
	}
	return p, Data{}
}
