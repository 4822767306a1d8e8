package pointcloud

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/corrgroup/logging"
)

func makeColoredCloud() *BasicPointCloud {
	pc := New()
	pc.Append(r3.Vector{X: -1, Y: -2, Z: 5}, NewColoredData(color.NRGBA{R: 255, A: 255}))
	pc.Append(r3.Vector{X: 582.125, Y: 12, Z: 0.1}, NewColoredData(color.NRGBA{G: 255, A: 255}))
	pc.Append(r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}, NewColoredData(color.NRGBA{B: 255, A: 255}))
	pc.Append(r3.Vector{X: 1e-7, Y: 2, Z: 3}, NewColoredData(color.NRGBA{R: 1, G: 2, B: 3, A: 255}))
	return pc
}

func assertCloudsEqual(t *testing.T, actual, expected PointCloud) {
	t.Helper()
	test.That(t, actual.Size(), test.ShouldEqual, expected.Size())
	for i := 0; i < expected.Size(); i++ {
		ep, ed := expected.At(i)
		ap, ad := actual.At(i)
		if IsFinite(ep) {
			test.That(t, ap, test.ShouldResemble, ep)
		} else {
			test.That(t, IsFinite(ap), test.ShouldBeFalse)
		}
		if ed != nil && ed.HasColor() {
			test.That(t, ad.Color(), test.ShouldResemble, ed.Color())
		}
	}
}

func TestPCDRoundTrip(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary} {
		cloud := makeColoredCloud()
		var buf bytes.Buffer
		test.That(t, ToPCD(cloud, &buf, pcdType), test.ShouldBeNil)

		read, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		assertCloudsEqual(t, read, cloud)
		test.That(t, read.MetaData().FiniteCount, test.ShouldEqual, 3)
	}

	var buf bytes.Buffer
	test.That(t, ToPCD(makeColoredCloud(), &buf, PCDCompressed), test.ShouldNotBeNil)
}

func TestReadPCDExtraFields(t *testing.T) {
	// rgb stored the way PCL does, as the bits of a float32.
	packed := math.Float32frombits(0x0A0B0C)
	ascii := "# .PCD v0.7 - Point Cloud Data file format\n" +
		"VERSION 0.7\n" +
		"FIELDS x y z normal_x normal_y normal_z rgb\n" +
		"SIZE 4 4 4 4 4 4 4\n" +
		"TYPE F F F F F F F\n" +
		"COUNT 1 1 1 1 1 1 1\n" +
		"WIDTH 2\n" +
		"HEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\n" +
		"POINTS 2\n" +
		"DATA ascii\n" +
		"1 2 3 0 0 1 " + formatPCDFloat(float64(packed)) + "\n" +
		"nan nan nan 0 0 1 " + formatPCDFloat(float64(packed)) + "\n"
	cloud, err := ReadPCD(strings.NewReader(ascii))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
	p, d := cloud.At(0)
	test.That(t, p, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, d.Color(), test.ShouldResemble, color.NRGBA{R: 0x0A, G: 0x0B, B: 0x0C, A: 255})
	p, _ = cloud.At(1)
	test.That(t, IsFinite(p), test.ShouldBeFalse)

	// Binary with float32 coordinates, an ignored intensity and no color.
	var body bytes.Buffer
	body.WriteString("VERSION .7\nFIELDS intensity x y z\nSIZE 2 4 4 4\nTYPE U F F F\nCOUNT 1 1 1 1\n" +
		"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA binary\n")
	body.Write(binary.LittleEndian.AppendUint16(nil, 7))
	for _, v := range []float32{0.5, -1.25, 8} {
		body.Write(binary.LittleEndian.AppendUint32(nil, math.Float32bits(v)))
	}
	cloud, err = ReadPCD(&body)
	test.That(t, err, test.ShouldBeNil)
	p, d = cloud.At(0)
	test.That(t, p, test.ShouldResemble, r3.Vector{X: 0.5, Y: -1.25, Z: 8})
	test.That(t, d, test.ShouldBeNil)
}

func TestReadPCDErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"no xyz", "VERSION .7\nFIELDS a b c\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 0\nHEIGHT 1\nPOINTS 0\nDATA ascii\n"},
		{"bad version", "VERSION .5\n"},
		{"points mismatch", "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\nPOINTS 3\nDATA ascii\n"},
		{"truncated data", "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\nPOINTS 2\nDATA ascii\n1 2 3\n"},
		{"bad token", "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n1 two 3\n"},
		{"compressed", "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA binary_compressed\n"},
		{"no data line", "VERSION .7\nFIELDS x y z\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPCD(strings.NewReader(tc.in))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestNewFromFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	pcdPath := filepath.Join(dir, "cloud.pcd")
	test.That(t, WriteToPCDFile(makeColoredCloud(), pcdPath, PCDBinary), test.ShouldBeNil)
	cloud, err := NewFromFile(pcdPath, logger)
	test.That(t, err, test.ShouldBeNil)
	assertCloudsEqual(t, cloud, makeColoredCloud())

	_, err = NewFromFile(filepath.Join(dir, "missing.pcd"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing.pcd")

	txtPath := filepath.Join(dir, "cloud.txt")
	test.That(t, os.WriteFile(txtPath, []byte("1 2 3\n"), 0o600), test.ShouldBeNil)
	_, err = NewFromFile(txtPath, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to read")
}

func TestLASRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := New()
	cloud.Append(r3.Vector{X: -1, Y: -2, Z: 5}, NewColoredValueData(color.NRGBA{R: 255, A: 255}, 5))
	cloud.Append(r3.Vector{X: 582, Y: 12, Z: 0}, NewColoredValueData(color.NRGBA{G: 255, A: 255}, 7))
	cloud.Append(r3.Vector{X: 7, Y: 6, Z: 1}, NewColoredValueData(color.NRGBA{B: 255, A: 255}, 9))

	fn := filepath.Join(t.TempDir(), "cloud.las")
	test.That(t, WriteToLASFile(cloud, fn), test.ShouldBeNil)

	read, err := NewFromFile(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Size(), test.ShouldEqual, 3)
	for i := 0; i < 3; i++ {
		ep, ed := cloud.At(i)
		ap, ad := read.At(i)
		test.That(t, ap.Sub(ep).Norm(), test.ShouldBeLessThan, 1e-3)
		test.That(t, ad.Color(), test.ShouldResemble, ed.Color())
		test.That(t, ad.Value(), test.ShouldEqual, ed.Value())
	}

	withNaN := NewFromPoints([]r3.Vector{{X: math.NaN()}})
	test.That(t, WriteToLASFile(withNaN, filepath.Join(t.TempDir(), "nan.las")), test.ShouldNotBeNil)
}
