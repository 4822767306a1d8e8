package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdField struct {
	name   string
	size   int
	typ    pcdValType
	count  int
	offset int // in bytes for binary data, in tokens for ascii data
}

type pcdHeader struct {
	fields []pcdField
	width  uint64
	height uint64
	points uint64
	data   PCDType

	xIdx, yIdx, zIdx, colorIdx int
}

const pcdCommentChar = "#"

// parsePCDHeaderLine handles one non-empty header line. It returns true once the DATA line,
// which ends the header, has been consumed.
func parsePCDHeaderLine(line string, header *pcdHeader) (bool, error) {
	var err error
	name, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)

	switch strings.ToUpper(name) {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return false, errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = make([]pcdField, len(tokens))
		for i, token := range tokens {
			header.fields[i] = pcdField{name: token, size: 4, typ: pcdValFloat, count: 1}
		}
	case "SIZE", "TYPE", "COUNT":
		if len(tokens) != len(header.fields) {
			return false, errors.Errorf("unexpected number of fields in %s line", name)
		}
		for i, token := range tokens {
			switch strings.ToUpper(name) {
			case "SIZE":
				header.fields[i].size, err = strconv.Atoi(token)
				if err != nil || header.fields[i].size <= 0 {
					return false, errors.Errorf("invalid SIZE field %s", token)
				}
			case "TYPE":
				header.fields[i].typ = pcdValType(strings.ToUpper(token))
			case "COUNT":
				header.fields[i].count, err = strconv.Atoi(token)
				if err != nil || header.fields[i].count <= 0 {
					return false, errors.Errorf("invalid COUNT field %s", token)
				}
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return false, errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return false, errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return false, errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return false, errors.Wrapf(err, "invalid POINTS field %s", value)
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
			return false, errors.Errorf("unsupported pcd data type %q", value)
		}
		return true, nil
	default:
		return false, errors.Errorf("unknown pcd header line %q", line)
	}
	return false, nil
}

// finish resolves field offsets and the positions of x, y, z and color.
func (header *pcdHeader) finish() error {
	header.xIdx, header.yIdx, header.zIdx, header.colorIdx = -1, -1, -1, -1
	byteOffset, tokenOffset := 0, 0
	for i := range header.fields {
		f := &header.fields[i]
		switch f.typ {
		case pcdValFloat:
			if f.size != 4 && f.size != 8 {
				return errors.Errorf("unsupported float size %d for field %s", f.size, f.name)
			}
		case pcdValInt, pcdValUInt:
			if f.size != 1 && f.size != 2 && f.size != 4 && f.size != 8 {
				return errors.Errorf("unsupported integer size %d for field %s", f.size, f.name)
			}
		default:
			return errors.Errorf("unsupported type %q for field %s", f.typ, f.name)
		}
		if header.data == PCDBinary {
			f.offset = byteOffset
		} else {
			f.offset = tokenOffset
		}
		byteOffset += f.size * f.count
		tokenOffset += f.count

		switch strings.ToLower(f.name) {
		case "x":
			header.xIdx = i
		case "y":
			header.yIdx = i
		case "z":
			header.zIdx = i
		case "rgb", "rgba":
			header.colorIdx = i
		}
	}
	if header.xIdx < 0 || header.yIdx < 0 || header.zIdx < 0 {
		return errors.New("pcd file must have x, y and z fields")
	}
	if header.points == 0 {
		header.points = header.width * header.height
	}
	if header.width*header.height != 0 && header.points != header.width*header.height {
		return fmt.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
	}
	return nil
}

func (header *pcdHeader) recordBytes() int {
	total := 0
	for _, f := range header.fields {
		total += f.size * f.count
	}
	return total
}

func (header *pcdHeader) recordTokens() int {
	total := 0
	for _, f := range header.fields {
		total += f.count
	}
	return total
}

// ReadPCD reads an ascii or binary PCD stream. Fields other than x, y, z and rgb/rgba are
// ignored. Non-finite coordinates are kept.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	for lineNum := 0; ; lineNum++ {
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return nil, errors.Wrapf(err, "error reading header line %d", lineNum)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		done, err := parsePCDHeaderLine(line, &header)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	if err := header.finish(); err != nil {
		return nil, err
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	numTokens := header.recordTokens()
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != numTokens {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		parse := func(field int) (float64, error) {
			token := tokens[header.fields[field].offset]
			v, err := strconv.ParseFloat(token, 64)
			if err != nil {
				return 0, errors.Errorf("invalid point %d field %s", i, token)
			}
			return v, nil
		}
		var pos [3]float64
		for j, field := range []int{header.xIdx, header.yIdx, header.zIdx} {
			if pos[j], err = parse(field); err != nil {
				return nil, err
			}
		}
		var data Data
		if header.colorIdx >= 0 {
			v, err := parse(header.colorIdx)
			if err != nil {
				return nil, err
			}
			packed := uint32(v)
			if header.fields[header.colorIdx].typ == pcdValFloat {
				packed = math.Float32bits(float32(v))
			}
			data = NewColoredData(pcdIntToColor(packed))
		}
		pc.Append(r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}, data)
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	record := make([]byte, header.recordBytes())
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, record); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		pos := r3.Vector{
			X: decodePCDValue(record, header.fields[header.xIdx]),
			Y: decodePCDValue(record, header.fields[header.yIdx]),
			Z: decodePCDValue(record, header.fields[header.zIdx]),
		}
		var data Data
		if header.colorIdx >= 0 {
			f := header.fields[header.colorIdx]
			if f.size != 4 {
				return nil, errors.Errorf("unsupported color field size %d", f.size)
			}
			data = NewColoredData(pcdIntToColor(binary.LittleEndian.Uint32(record[f.offset:])))
		}
		pc.Append(pos, data)
	}
	return pc, nil
}

func decodePCDValue(record []byte, f pcdField) float64 {
	b := record[f.offset:]
	switch f.typ {
	case pcdValFloat:
		if f.size == 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case pcdValInt:
		switch f.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(b)))
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(b)))
		default:
			return float64(int64(binary.LittleEndian.Uint64(b)))
		}
	default:
		switch f.size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(binary.LittleEndian.Uint16(b))
		case 4:
			return float64(binary.LittleEndian.Uint32(b))
		default:
			return float64(binary.LittleEndian.Uint64(b))
		}
	}
}
