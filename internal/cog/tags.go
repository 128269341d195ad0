package cog

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/rotisserie/eris"
)

// TIFF tag identifiers used by the reader.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoASCIIParams  = 34737
	tagGDALNoData      = 42113
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
	typeLong8     = 16
	typeSLong8    = 17
	typeIFD8      = 18
)

// Compression schemes.
const (
	compressionNone    = 1
	compressionDeflate = 8
)

// Sample formats.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

const (
	predictorNone       = 1
	predictorHorizontal = 2
)

const (
	magicLittleEndian = 0x4949
	magicBigEndian    = 0x4d4d
	magicTIFF         = 42
	magicBigTIFF      = 43
)

var fieldTypeSize = map[uint16]uint64{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4,
	typeRational: 8, typeSByte: 1, typeUndefined: 1, typeSShort: 2,
	typeSLong: 4, typeSRational: 8, typeFloat: 4, typeDouble: 8,
	typeLong8: 8, typeSLong8: 8, typeIFD8: 8,
}

// tagValue holds the decoded payload of a single IFD entry.
type tagValue struct {
	fieldType uint16
	ascii     string
	uints     []uint64
	doubles   []float64
}

func (t tagValue) firstUint() (uint64, bool) {
	if len(t.uints) == 0 {
		return 0, false
	}
	return t.uints[0], true
}

type header struct {
	byteOrder binary.ByteOrder
	isBigTIFF bool
	ifdOffset uint64
}

func readFileHeader(r io.Reader) (header, error) {
	var h header

	var magic uint16
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return h, eris.Wrap(err, "cog: read byte order")
	}
	switch magic {
	case magicLittleEndian:
		h.byteOrder = binary.LittleEndian
	case magicBigEndian:
		h.byteOrder = binary.BigEndian
	default:
		return h, eris.New("cog: not a TIFF file")
	}

	var identifier uint16
	if err := binary.Read(r, h.byteOrder, &identifier); err != nil {
		return h, eris.Wrap(err, "cog: read identifier")
	}

	switch identifier {
	case magicTIFF:
		var offset32 uint32
		if err := binary.Read(r, h.byteOrder, &offset32); err != nil {
			return h, eris.Wrap(err, "cog: read IFD offset")
		}
		h.ifdOffset = uint64(offset32)
	case magicBigTIFF:
		h.isBigTIFF = true
		var bytesize, reserved uint16
		if err := binary.Read(r, h.byteOrder, &bytesize); err != nil {
			return h, eris.Wrap(err, "cog: read BigTIFF bytesize")
		}
		if bytesize != 8 {
			return h, eris.New("cog: invalid BigTIFF bytesize")
		}
		if err := binary.Read(r, h.byteOrder, &reserved); err != nil {
			return h, eris.Wrap(err, "cog: read BigTIFF reserved")
		}
		if err := binary.Read(r, h.byteOrder, &h.ifdOffset); err != nil {
			return h, eris.Wrap(err, "cog: read BigTIFF IFD offset")
		}
	default:
		return h, eris.Errorf("cog: invalid TIFF identifier %d", identifier)
	}

	return h, nil
}

// readTags parses the first IFD only: for a COG that is the full-resolution
// image; subsequent IFDs are overviews the tile renderer does not need.
func readTags(r io.ReadSeeker) (map[uint16]tagValue, header, error) {
	h, err := readFileHeader(r)
	if err != nil {
		return nil, h, err
	}
	if h.ifdOffset == 0 {
		return nil, h, eris.New("cog: file contains no IFD")
	}

	if _, err := r.Seek(int64(h.ifdOffset), io.SeekStart); err != nil {
		return nil, h, eris.Wrap(err, "cog: seek to IFD")
	}

	var numEntries uint64
	if h.isBigTIFF {
		if err := binary.Read(r, h.byteOrder, &numEntries); err != nil {
			return nil, h, eris.Wrap(err, "cog: read IFD entry count")
		}
	} else {
		var n16 uint16
		if err := binary.Read(r, h.byteOrder, &n16); err != nil {
			return nil, h, eris.Wrap(err, "cog: read IFD entry count")
		}
		numEntries = uint64(n16)
	}

	entryLen := 12
	inlineSize := uint64(4)
	if h.isBigTIFF {
		entryLen = 20
		inlineSize = 8
	}

	block := make([]byte, entryLen*int(numEntries))
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, h, eris.Wrap(err, "cog: read IFD block")
	}

	tags := make(map[uint16]tagValue, numEntries)
	for i := uint64(0); i < numEntries; i++ {
		entry := block[int(i)*entryLen : (int(i)+1)*entryLen]
		tag := h.byteOrder.Uint16(entry[0:2])
		ftype := h.byteOrder.Uint16(entry[2:4])

		size, ok := fieldTypeSize[ftype]
		if !ok {
			continue // unknown field type, skip the tag
		}

		var count, valueOffset uint64
		var inline []byte
		if h.isBigTIFF {
			count = h.byteOrder.Uint64(entry[4:12])
			valueOffset = h.byteOrder.Uint64(entry[12:20])
			inline = entry[12:20]
		} else {
			count = uint64(h.byteOrder.Uint32(entry[4:8]))
			valueOffset = uint64(h.byteOrder.Uint32(entry[8:12]))
			inline = entry[8:12]
		}

		var payload io.Reader
		if total := size * count; total <= inlineSize {
			payload = bytes.NewReader(inline[:total])
		} else {
			payload = io.NewSectionReader(r.(io.ReaderAt), int64(valueOffset), int64(size*count))
		}

		value, err := decodeTagValue(payload, h.byteOrder, ftype, count)
		if err != nil {
			return nil, h, eris.Wrapf(err, "cog: decode tag %d", tag)
		}
		tags[tag] = value
	}

	return tags, h, nil
}

func decodeTagValue(r io.Reader, bo binary.ByteOrder, ftype uint16, count uint64) (tagValue, error) {
	v := tagValue{fieldType: ftype}

	switch ftype {
	case typeByte, typeUndefined:
		data := make([]uint8, count)
		if err := binary.Read(r, bo, &data); err != nil {
			return v, err
		}
		v.uints = make([]uint64, count)
		for i, b := range data {
			v.uints[i] = uint64(b)
		}
	case typeASCII:
		data := make([]uint8, count)
		if err := binary.Read(r, bo, data); err != nil {
			return v, err
		}
		v.ascii = string(bytes.Trim(data, "\x00"))
	case typeShort:
		data := make([]uint16, count)
		if err := binary.Read(r, bo, &data); err != nil {
			return v, err
		}
		v.uints = make([]uint64, count)
		for i, s := range data {
			v.uints[i] = uint64(s)
		}
	case typeLong:
		data := make([]uint32, count)
		if err := binary.Read(r, bo, &data); err != nil {
			return v, err
		}
		v.uints = make([]uint64, count)
		for i, l := range data {
			v.uints[i] = uint64(l)
		}
	case typeLong8, typeIFD8:
		v.uints = make([]uint64, count)
		if err := binary.Read(r, bo, &v.uints); err != nil {
			return v, err
		}
	case typeDouble:
		v.doubles = make([]float64, count)
		if err := binary.Read(r, bo, &v.doubles); err != nil {
			return v, err
		}
	case typeFloat:
		data := make([]float32, count)
		if err := binary.Read(r, bo, &data); err != nil {
			return v, err
		}
		v.doubles = make([]float64, count)
		for i, f := range data {
			v.doubles[i] = float64(f)
		}
	default:
		// Rational and signed variants are not used by the tags we read.
		discard := make([]byte, fieldTypeSize[ftype]*count)
		if _, err := io.ReadFull(r, discard); err != nil {
			return v, err
		}
	}

	return v, nil
}
