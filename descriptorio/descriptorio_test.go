package descriptorio

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func sampleRecords() []Record {
	var r1, r2 Record
	r1.X, r1.Y, r1.Scale, r1.Orientation, r1.Octave = 10.5, 20.25, 1.6, 0.5, 1
	r2.X, r2.Y, r2.Scale, r2.Orientation, r2.Octave = 40, 41, 3.2, 2.1, 2
	for i := 0; i < descriptorDim; i++ {
		r1.Descriptor[i] = float32(i) / 200
		r2.Descriptor[i] = 1 - float32(i)/300
	}
	return []Record{r1, r2}
}

func TestBinaryRoundTripBitwiseIdentical(t *testing.T) {
	records := sampleRecords()
	h := Header{Count: uint32(len(records)), OrigWidth: 640, OrigHeight: 480}

	var buf bytes.Buffer
	if err := WriteBinary(&buf, h, records); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}

	gotHeader, gotRecords, err := ReadBinary(&buf)
	if err != nil {
		t.Fatalf("ReadBinary: %v", err)
	}
	if gotHeader.Count != h.Count || gotHeader.OrigWidth != h.OrigWidth || gotHeader.OrigHeight != h.OrigHeight {
		t.Fatalf("header mismatch: got %+v want %+v", gotHeader, h)
	}
	for i := range records {
		if gotRecords[i] != records[i] {
			t.Fatalf("record %d not bitwise identical:\ngot  %+v\nwant %+v", i, gotRecords[i], records[i])
		}
	}
}

func TestTextRoundTripWithinToleranceAfterRenormalization(t *testing.T) {
	records := sampleRecords()
	// Pre-normalize input descriptors to unit L2 so post-load
	// renormalization is comparing like with like.
	for i := range records {
		renormalizeL2(&records[i].Descriptor)
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, records); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	got, err := ReadText(&buf)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}

	for i := range records {
		for j := range records[i].Descriptor {
			// The load path divides by 128 instead of the save path's
			// 512 scaler; renormalization cancels that constant factor,
			// so each component matches the pre-quantization value to
			// within 1/512.
			if math.IsNaN(float64(got[i].Descriptor[j])) {
				t.Fatalf("record %d component %d is NaN", i, j)
			}
			if diff := math.Abs(float64(got[i].Descriptor[j] - records[i].Descriptor[j])); diff > 1.0/512 {
				t.Fatalf("record %d component %d: got %v want %v (diff %v > 1/512)", i, j, got[i].Descriptor[j], records[i].Descriptor[j], diff)
			}
		}
		var norm float64
		for _, v := range got[i].Descriptor {
			norm += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
			t.Fatalf("record %d loaded descriptor not renormalized: norm=%v", i, math.Sqrt(norm))
		}
	}
}

func TestTextQuantizationClipsToByteRange(t *testing.T) {
	var r Record
	r.Descriptor[0] = 10 // far outside [0,1]; should clip to 255 after clamp+scale
	var buf bytes.Buffer
	if err := WriteText(&buf, []Record{r}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	text := buf.String()
	// Row fields are x, y, scale, orientation, then d0..d127.
	rows := strings.Split(strings.TrimSpace(text), "\n")
	if fields := strings.Fields(rows[len(rows)-1]); len(fields) < 5 || fields[4] != "255" {
		t.Fatalf("component 0 not clipped to 255 in saved row: %v", fields[:min(len(fields), 5)])
	}
	got, err := ReadText(&buf)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	want := float32(255) / textLoadDivisor
	// After load and renormalization component 0 is the only nonzero
	// component, since all others were saved as 0.
	if got[0].Descriptor[0] <= 0 {
		t.Fatalf("expected dominant nonzero component, got %v (raw target %v)", got[0].Descriptor[0], want)
	}
}
