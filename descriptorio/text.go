package descriptorio

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// textScale is the save-side scaler applied to a normalized-to-[0,1]
// descriptor component before rounding to a byte (§6).
const textScale = 512.0

// textLoadDivisor is the load-side divisor. It intentionally does not
// match textScale: the source format has always divided by 128 on load
// while scaling by 512 on save, so a naive round-trip does not reproduce
// the original vector before re-normalization (see the round-trip
// property of §8, which is stated against the re-normalized loaded
// descriptor, not raw bytes).
const textLoadDivisor = 128.0

// WriteText writes the VisualSFM/Lowe-convention text format: a header
// line "<count> 128", then one row per keypoint
// "x y scale orientation d0 ... d127".
func WriteText(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d %d\n", len(records), descriptorDim); err != nil {
		return fmt.Errorf("descriptorio: write text header: %w", err)
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(bw, "%g %g %g %g", r.X, r.Y, r.Scale, r.Orientation); err != nil {
			return fmt.Errorf("descriptorio: write text row: %w", err)
		}
		for _, v := range r.Descriptor {
			clamped := clamp01(v)
			q := int(math.Round(float64(clamped) * textScale))
			if q > 255 {
				q = 255
			}
			if q < 0 {
				q = 0
			}
			if _, err := fmt.Fprintf(bw, " %d", q); err != nil {
				return fmt.Errorf("descriptorio: write text descriptor: %w", err)
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadText reads the text format back, dividing quantized components by
// textLoadDivisor and re-normalizing to unit L2, matching the observed
// (not internally consistent) behavior of the source format.
func ReadText(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("descriptorio: empty text file")
	}
	header := strings.Fields(scanner.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("descriptorio: malformed header %q", scanner.Text())
	}
	count, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("descriptorio: bad count in header: %w", err)
	}
	dim, err := strconv.Atoi(header[1])
	if err != nil || dim != descriptorDim {
		return nil, fmt.Errorf("descriptorio: unexpected dim %q", header[1])
	}

	records := make([]Record, 0, count)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4+descriptorDim {
			return nil, fmt.Errorf("descriptorio: row has %d fields, want %d", len(fields), 4+descriptorDim)
		}
		var rec Record
		rec.X, err = parseFloat32(fields[0])
		if err != nil {
			return nil, err
		}
		rec.Y, err = parseFloat32(fields[1])
		if err != nil {
			return nil, err
		}
		rec.Scale, err = parseFloat32(fields[2])
		if err != nil {
			return nil, err
		}
		rec.Orientation, err = parseFloat32(fields[3])
		if err != nil {
			return nil, err
		}

		for i := 0; i < descriptorDim; i++ {
			v, err := strconv.Atoi(fields[4+i])
			if err != nil {
				return nil, fmt.Errorf("descriptorio: bad descriptor component: %w", err)
			}
			rec.Descriptor[i] = float32(v) / textLoadDivisor
		}
		renormalizeL2(&rec.Descriptor)
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("descriptorio: scan: %w", err)
	}
	return records, nil
}

func parseFloat32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("descriptorio: bad float %q: %w", s, err)
	}
	return float32(v), nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func renormalizeL2(d *[descriptorDim]float32) {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	inv := float32(1 / norm)
	for i := range d {
		d[i] *= inv
	}
}
