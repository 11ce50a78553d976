// Package descriptorio implements the on-disk descriptor file formats of
// §6: a little-endian binary format (magic "WSFT") and a text format
// mirroring the VisualSFM/Lowe convention. Byte packing follows the
// teacher's own manual little-endian layout style (as in the compute
// dispatcher's uniform-config packing) rather than a general serialization
// library, since the record layout is a small fixed struct with no
// versioning needs beyond the single version field already in the format.
package descriptorio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	magic       = "WSFT"
	formatVersion = 1
	descriptorDim = 128
	headerSize    = 4 + 4 + 4 + 4 + 4 + 4 + 8 // magic+version+count+dim+width+height+reserved
	recordSize    = 4*4 + 4 + descriptorDim*4 // x,y,scale,orientation + octave + 128 floats
)

// Record is one on-disk keypoint-plus-descriptor entry.
type Record struct {
	X, Y        float32
	Scale       float32
	Orientation float32
	Octave      int32
	Descriptor  [descriptorDim]float32
}

// Header carries the file-level metadata preceding the record array.
type Header struct {
	Count         uint32
	OrigWidth     uint32
	OrigHeight    uint32
}

// WriteBinary writes the WSFT v1 binary format: header then Count records.
func WriteBinary(w io.Writer, h Header, records []Record) error {
	if int(h.Count) != len(records) {
		return fmt.Errorf("descriptorio: header count %d does not match %d records", h.Count, len(records))
	}

	bw := bufio.NewWriter(w)
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.Count)
	binary.LittleEndian.PutUint32(buf[12:16], descriptorDim)
	binary.LittleEndian.PutUint32(buf[16:20], h.OrigWidth)
	binary.LittleEndian.PutUint32(buf[20:24], h.OrigHeight)
	// buf[24:32] reserved, left zero.
	if _, err := bw.Write(buf); err != nil {
		return fmt.Errorf("descriptorio: write header: %w", err)
	}

	rec := make([]byte, recordSize)
	for _, r := range records {
		binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(r.X))
		binary.LittleEndian.PutUint32(rec[4:8], math.Float32bits(r.Y))
		binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(r.Scale))
		binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(r.Orientation))
		binary.LittleEndian.PutUint32(rec[16:20], uint32(r.Octave))
		for i, v := range r.Descriptor {
			off := 20 + i*4
			binary.LittleEndian.PutUint32(rec[off:off+4], math.Float32bits(v))
		}
		if _, err := bw.Write(rec); err != nil {
			return fmt.Errorf("descriptorio: write record: %w", err)
		}
	}
	return bw.Flush()
}

// ReadBinary reads a WSFT v1 binary file back into a Header and Records.
func ReadBinary(r io.Reader) (Header, []Record, error) {
	br := bufio.NewReader(r)
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(br, buf); err != nil {
		return Header{}, nil, fmt.Errorf("descriptorio: read header: %w", err)
	}
	if string(buf[0:4]) != magic {
		return Header{}, nil, fmt.Errorf("descriptorio: bad magic %q", buf[0:4])
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != formatVersion {
		return Header{}, nil, fmt.Errorf("descriptorio: unsupported version %d", version)
	}
	h := Header{
		Count:      binary.LittleEndian.Uint32(buf[8:12]),
		OrigWidth:  binary.LittleEndian.Uint32(buf[16:20]),
		OrigHeight: binary.LittleEndian.Uint32(buf[20:24]),
	}
	dim := binary.LittleEndian.Uint32(buf[12:16])
	if dim != descriptorDim {
		return Header{}, nil, fmt.Errorf("descriptorio: unexpected descriptor dim %d", dim)
	}

	records := make([]Record, h.Count)
	rec := make([]byte, recordSize)
	for i := range records {
		if _, err := io.ReadFull(br, rec); err != nil {
			return Header{}, nil, fmt.Errorf("descriptorio: read record %d: %w", i, err)
		}
		records[i].X = math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))
		records[i].Y = math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))
		records[i].Scale = math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))
		records[i].Orientation = math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16]))
		records[i].Octave = int32(binary.LittleEndian.Uint32(rec[16:20]))
		for j := range records[i].Descriptor {
			off := 20 + j*4
			records[i].Descriptor[j] = math.Float32frombits(binary.LittleEndian.Uint32(rec[off : off+4]))
		}
	}
	return h, records, nil
}
