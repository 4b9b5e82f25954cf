package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/voxelmap/spatialmath"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file. Coordinates are in meters.
func NewFromFile(fn string) (PointCloud, error) {
	switch filepath.Ext(fn) {
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		cloud, err := ReadPCD(f)
		return cloud, multierr.Combine(err, f.Close())
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToPCDFile writes the point cloud out to a binary PCD file.
func WriteToPCDFile(cloud PointCloud, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, PCDBinary); err != nil {
		return err
	}
	return w.Flush()
}

func colorToPCDInt(pt Data) uint32 {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}

	r, g, b := pt.RGB255()
	x := uint32(0)

	x |= uint32(r) << 16
	x |= uint32(g) << 8
	x |= uint32(b) << 0
	return x
}

func pcdIntToColor(c uint32) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{r, g, b, 255}
}

// ToPCD writes the cloud in PCD form. Color data is written as an rgb field and value data as
// an unsigned label field.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	meta := cloud.MetaData()
	fields := []string{"x", "y", "z"}
	sizes := []string{"4", "4", "4"}
	types := []string{"F", "F", "F"}
	if meta.HasColor {
		fields = append(fields, "rgb")
		sizes = append(sizes, "4")
		types = append(types, "I")
	}
	if meta.HasValue {
		fields = append(fields, "label")
		sizes = append(sizes, "4")
		types = append(types, "U")
	}
	counts := strings.TrimSpace(strings.Repeat("1 ", len(fields)))

	if _, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		strings.Join(fields, " "),
		strings.Join(sizes, " "),
		strings.Join(types, " "),
		counts,
		cloud.Size(),
		cloud.Size(),
	); err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		if _, err := fmt.Fprintf(out, "DATA binary\n"); err != nil {
			return err
		}
	case PCDAscii:
		if _, err := fmt.Fprintf(out, "DATA ascii\n"); err != nil {
			return err
		}
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}
	return writePCDData(cloud, out, outputType)
}

func formatPCDFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 32)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	meta := cloud.MetaData()
	var err error
	buf := make([]byte, 0, 20)
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		switch pcdtype {
		case PCDBinary:
			buf = buf[:0]
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.X)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Y)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Z)))
			if meta.HasColor {
				buf = binary.LittleEndian.AppendUint32(buf, colorToPCDInt(d))
			}
			if meta.HasValue {
				buf = binary.LittleEndian.AppendUint32(buf, pcdLabel(d))
			}
			_, err = out.Write(buf)
		default:
			tokens := []string{formatPCDFloat(pos.X), formatPCDFloat(pos.Y), formatPCDFloat(pos.Z)}
			if meta.HasColor {
				tokens = append(tokens, strconv.FormatUint(uint64(colorToPCDInt(d)), 10))
			}
			if meta.HasValue {
				tokens = append(tokens, strconv.FormatUint(uint64(pcdLabel(d)), 10))
			}
			_, err = fmt.Fprintln(out, strings.Join(tokens, " "))
		}
		return err == nil
	})
	return err
}

func pcdLabel(d Data) uint32 {
	if d == nil || !d.HasValue() || d.Value() < 0 {
		return 0
	}
	return uint32(d.Value())
}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields    []string
	colorIdx  int
	labelIdx  int
	size      []uint64
	valType   []pcdValType
	count     []uint64
	width     uint64
	height    uint64
	viewpoint spatialmath.Pose
	points    uint64
	data      PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDFields(value string, header *pcdHeader) error {
	header.colorIdx, header.labelIdx = -1, -1
	switch value {
	case "x y z":
	case "x y z rgb":
		header.colorIdx = 3
	case "x y z label":
		header.labelIdx = 3
	case "x y z rgb label":
		header.colorIdx, header.labelIdx = 3, 4
	default:
		return errors.Errorf("unsupported pcd fields %s", value)
	}
	header.fields = strings.Fields(value)
	return nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		return parsePCDFields(value, header)
	case "SIZE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
			if header.size[i] != 4 {
				return errors.Errorf("unsupported SIZE %d for field %s, only 4 byte fields are supported", header.size[i], header.fields[i])
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.valType = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(token); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.valType[i] = t
			default:
				return errors.Errorf("invalid TYPE field %s", token)
			}
		}
	case "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		header.count = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid COUNT field %s", token)
			}
			if header.count[i] != 1 {
				return errors.Errorf("unsupported COUNT %d for field %s", header.count[i], header.fields[i])
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		viewpoint := [7]float64{}
		for i, token := range tokens {
			viewpoint[i], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
		header.viewpoint = spatialmath.NewPose(
			r3.Vector{X: viewpoint[0], Y: viewpoint[1], Z: viewpoint[2]},
			&spatialmath.Quaternion{Real: viewpoint[3], Imag: viewpoint[4], Jmag: viewpoint[5], Kmag: viewpoint[6]},
		)
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

func readPCDHeader(in *bufio.Reader) (pcdHeader, error) {
	header := pcdHeader{}
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return header, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return header, err
		}
		headerLineCount++
	}
	return header, nil
}

// pcdPoint is one decoded PCD record. rgb and label are raw bit patterns.
type pcdPoint struct {
	pos   r3.Vector
	rgb   uint32
	label uint32
}

func (header *pcdHeader) toData(p pcdPoint) Data {
	d := NewBasicData()
	if header.colorIdx >= 0 {
		d.SetColor(pcdIntToColor(p.rgb))
	}
	if header.labelIdx >= 0 {
		d.SetValue(int(p.label))
	}
	return d
}

func readPCD(inRaw io.Reader, fn func(header *pcdHeader, p pcdPoint) error) (pcdHeader, error) {
	in := bufio.NewReader(inRaw)
	header, err := readPCDHeader(in)
	if err != nil {
		return header, err
	}
	switch header.data {
	case PCDAscii:
		return header, readPCDAscii(in, &header, fn)
	case PCDBinary:
		return header, readPCDBinary(in, &header, fn)
	case PCDCompressed:
		return header, errors.New("compressed pcd not yet supported")
	default:
		return header, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

// ReadPCD reads a PCD file with fields "x y z", optionally followed by "rgb" and/or "label".
func ReadPCD(in io.Reader) (PointCloud, error) {
	var pc PointCloud
	_, err := readPCD(in, func(header *pcdHeader, p pcdPoint) error {
		if pc == nil {
			pc = NewWithPrealloc(int(header.points))
		}
		return pc.Set(p.pos, header.toData(p))
	})
	if err != nil {
		return nil, err
	}
	if pc == nil {
		pc = New()
	}
	return pc, nil
}

// ReadPCDFrame reads a PCD file as a sensor frame. The VIEWPOINT header is the sensor pose and
// points keep their file order, duplicates included.
func ReadPCDFrame(in io.Reader) (*Frame, error) {
	f := &Frame{}
	header, err := readPCD(in, func(header *pcdHeader, p pcdPoint) error {
		f.Points = append(f.Points, p.pos)
		if header.colorIdx >= 0 {
			f.Colors = append(f.Colors, pcdIntToColor(p.rgb))
		}
		if header.labelIdx >= 0 {
			f.Labels = append(f.Labels, p.label)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.Pose = header.viewpoint
	return f, nil
}

func decodePCDToken(token string, t pcdValType) (float64, uint32, error) {
	switch t {
	case pcdValFloat:
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, 0, err
		}
		return v, math.Float32bits(float32(v)), nil
	case pcdValInt:
		v, err := strconv.ParseInt(token, 10, 32)
		if err != nil {
			return 0, 0, err
		}
		return float64(v), uint32(v), nil
	default:
		v, err := strconv.ParseUint(token, 10, 32)
		if err != nil {
			return 0, 0, err
		}
		return float64(v), uint32(v), nil
	}
}

func decodePCDWord(word uint32, t pcdValType) float64 {
	switch t {
	case pcdValFloat:
		return float64(math.Float32frombits(word))
	case pcdValInt:
		return float64(int32(word))
	default:
		return float64(word)
	}
}

func (header *pcdHeader) point(values []float64, words []uint32) pcdPoint {
	p := pcdPoint{pos: r3.Vector{X: values[0], Y: values[1], Z: values[2]}}
	if header.colorIdx >= 0 {
		p.rgb = words[header.colorIdx]
	}
	if header.labelIdx >= 0 {
		p.label = words[header.labelIdx]
	}
	return p
}

func readPCDAscii(in *bufio.Reader, header *pcdHeader, fn func(header *pcdHeader, p pcdPoint) error) error {
	values := make([]float64, len(header.fields))
	words := make([]uint32, len(header.fields))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.fields) {
			return errors.Errorf("unexpected number of fields in point %d", i)
		}
		for j, token := range tokens {
			values[j], words[j], err = decodePCDToken(token, header.valType[j])
			if err != nil {
				return errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		if err := fn(header, header.point(values, words)); err != nil {
			return err
		}
	}
	return nil
}

func readPCDBinary(in *bufio.Reader, header *pcdHeader, fn func(header *pcdHeader, p pcdPoint) error) error {
	values := make([]float64, len(header.fields))
	words := make([]uint32, len(header.fields))
	buf := make([]byte, 4*len(header.fields))
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return errors.Wrapf(err, "reading point %d", i)
		}
		for j := range header.fields {
			words[j] = binary.LittleEndian.Uint32(buf[4*j:])
			values[j] = decodePCDWord(words[j], header.valType[j])
		}
		if err := fn(header, header.point(values, words)); err != nil {
			return err
		}
	}
	return nil
}
