package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/corrgroup/logging"
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

// NewFromFile returns a pointcloud read in from the given file. The format is chosen by
// extension.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	var (
		cloud PointCloud
		err   error
	)
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		cloud, err = NewFromLASFile(fn, logger)
	case ".pcd":
		cloud, err = NewFromPCDFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %q", fn)
	}
	logger.Debugw("loaded point cloud", "file", fn, "points", cloud.Size(), "finite", cloud.MetaData().FiniteCount)
	return cloud, nil
}

// NewFromPCDFile reads a PCD file from disk.
func NewFromPCDFile(fn string) (PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadPCD(f)
}

// WriteToPCDFile writes the cloud to fn.
func WriteToPCDFile(cloud PointCloud, fn string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

// pointValueDataTag encodes if the point has value data.
const pointValueDataTag = "rc|pv"

// NewFromLASFile returns a point cloud from reading a LAS file.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	var hasValue bool
	var valueData []byte
	for _, d := range lf.VlrData {
		if d.Description == pointValueDataTag {
			hasValue = true
			valueData = d.BinaryData
			break
		}
	}
	if hasValue && len(valueData) < lf.Header.NumberPoints*8 {
		logger.Warnw("ignoring truncated LAS value record", "file", fn, "bytes", len(valueData))
		hasValue = false
	}

	pc := NewWithPrealloc(lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		var dd Data
		var c color.NRGBA
		hasColor := lf.Header.PointFormatID == 2 && p.RgbData() != nil
		if hasColor {
			c = color.NRGBA{
				R: uint8(p.RgbData().Red / 256),
				G: uint8(p.RgbData().Green / 256),
				B: uint8(p.RgbData().Blue / 256),
				A: 255,
			}
		}
		switch {
		case hasColor && hasValue:
			dd = NewColoredValueData(c, int(binary.LittleEndian.Uint64(valueData[i*8:(i*8)+8])))
		case hasColor:
			dd = NewColoredData(c)
		case hasValue:
			dd = NewValueData(int(binary.LittleEndian.Uint64(valueData[i*8 : (i*8)+8])))
		}

		pc.Append(r3.Vector{X: data.X, Y: data.Y, Z: data.Z}, dd)
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file. LAS stores scaled integers, so
// every point must be finite.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	meta := cloud.MetaData()
	if meta.FiniteCount != cloud.Size() {
		return errors.Errorf("cannot write %d non-finite points to LAS", cloud.Size()-meta.FiniteCount)
	}

	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var pVals []int
	if meta.HasValue {
		pVals = make([]int, 0, cloud.Size())
	}
	var lastErr error
	cloud.Iterate(0, 0, func(_ int, pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}
		lp = pr0

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if meta.HasValue {
			if d != nil && d.HasValue() {
				pVals = append(pVals, d.Value())
			} else {
				pVals = append(pVals, 0)
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if lastErr != nil {
		return lastErr
	}
	if meta.HasValue {
		var buf bytes.Buffer
		for _, v := range pVals {
			encoded := make([]byte, 8)
			binary.LittleEndian.PutUint64(encoded, uint64(v))
			buf.Write(encoded)
		}
		if err = lf.AddVLR(lidario.VLR{
			Description:             pointValueDataTag,
			BinaryData:              buf.Bytes(),
			RecordLengthAfterHeader: buf.Len(),
		}); err != nil {
			return
		}
	}
	return nil
}

func colorToPCDInt(pt Data) uint32 {
	if pt == nil || !pt.HasColor() {
		return 0xFFFFFF
	}
	r, g, b := pt.RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{R: uint8(0xFF & (c >> 16)), G: uint8(0xFF & (c >> 8)), B: uint8(0xFF & c), A: 255}
}

// ToPCD writes the cloud as PCD with double precision coordinates, plus a packed rgb field when
// the cloud has color. Non-finite points are written as nan so indices survive a round trip.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	if outputType == PCDCompressed {
		return errors.New("compressed PCD not yet implemented")
	}
	hasColor := cloud.MetaData().HasColor
	header := "VERSION .7\n"
	if hasColor {
		header += "FIELDS x y z rgb\nSIZE 8 8 8 4\nTYPE F F F U\nCOUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\nSIZE 8 8 8\nTYPE F F F\nCOUNT 1 1 1\n"
	}
	header += fmt.Sprintf("WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", cloud.Size(), cloud.Size())
	if outputType == PCDBinary {
		header += "DATA binary\n"
	} else {
		header += "DATA ascii\n"
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}

	var err error
	cloud.Iterate(0, 0, func(_ int, pos r3.Vector, d Data) bool {
		switch outputType {
		case PCDBinary:
			buf := make([]byte, 24, 28)
			binary.LittleEndian.PutUint64(buf, math.Float64bits(pos.X))
			binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(pos.Y))
			binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(pos.Z))
			if hasColor {
				buf = binary.LittleEndian.AppendUint32(buf, colorToPCDInt(d))
			}
			_, err = out.Write(buf)
		default:
			line := formatPCDFloat(pos.X) + " " + formatPCDFloat(pos.Y) + " " + formatPCDFloat(pos.Z)
			if hasColor {
				line += " " + strconv.FormatUint(uint64(colorToPCDInt(d)), 10)
			}
			_, err = io.WriteString(out, line+"\n")
		}
		return err == nil
	})
	return err
}

func formatPCDFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
