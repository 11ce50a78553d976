package gpupipe

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestUniformBuilderLayout(t *testing.T) {
	got := newUniform().u32(7).f32(1.5).i32(-3).pad(1).bytes()

	if len(got)%16 != 0 {
		t.Fatalf("uniform buffer length %d not a multiple of 16", len(got))
	}
	if binary.LittleEndian.Uint32(got[0:]) != 7 {
		t.Fatalf("u32 field: got %d, want 7", binary.LittleEndian.Uint32(got[0:]))
	}
	if math.Float32frombits(binary.LittleEndian.Uint32(got[4:])) != 1.5 {
		t.Fatalf("f32 field: got %v, want 1.5", math.Float32frombits(binary.LittleEndian.Uint32(got[4:])))
	}
	if int32(binary.LittleEndian.Uint32(got[8:])) != -3 {
		t.Fatalf("i32 field: got %d, want -3", int32(binary.LittleEndian.Uint32(got[8:])))
	}
	for _, b := range got[12:16] {
		if b != 0 {
			t.Fatalf("pad field not zeroed: %v", got[12:16])
		}
	}
}

func TestUniformBuilderPadsToSixteenBytes(t *testing.T) {
	got := newUniform().u32(1).bytes()
	if len(got) != 16 {
		t.Fatalf("got length %d, want 16", len(got))
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct {
		a, b, want uint32
	}{
		{0, 8, 0},
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{100, 64, 2},
		{5, 0, 0},
	}
	for _, c := range cases {
		if got := ceilDiv(c.a, c.b); got != c.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestStageStringCoversEveryStage(t *testing.T) {
	for s := Stage(0); s < stageCount; s++ {
		got := s.String()
		if got == "" {
			t.Errorf("stage %d: empty String()", int(s))
		}
	}
	if got := stageCount.String(); got != "Stage(13)" {
		t.Errorf("out-of-range stage: got %q, want %q", got, "Stage(13)")
	}
}

func TestWorkgroupSizeEveryStageNonZero(t *testing.T) {
	for s := Stage(0); s < stageCount; s++ {
		x, y, z := workgroupSize(s)
		if x == 0 || y == 0 || z == 0 {
			t.Errorf("stage %s: workgroup size (%d,%d,%d) has a zero dimension", s, x, y, z)
		}
	}
}

func TestStageLayoutEveryStageHasBindings(t *testing.T) {
	for s := Stage(0); s < stageCount; s++ {
		entries := stageLayout(s)
		if len(entries) == 0 {
			t.Errorf("stage %s: stageLayout returned no entries", s)
		}
		if entries[0].Binding != 0 {
			t.Errorf("stage %s: binding 0 is not the uniform config slot", s)
		}
	}
}

func TestDecodeKeypointRecords(t *testing.T) {
	raw := make([]byte, 2*keypointRecordSize)
	put := func(rec int, field int, bits uint32) {
		binary.LittleEndian.PutUint32(raw[rec*keypointRecordSize+field*4:], bits)
	}
	put(0, 0, math.Float32bits(1.5))
	put(0, 1, math.Float32bits(2.5))
	put(0, 2, 1)
	put(0, 3, 2)
	put(0, 4, math.Float32bits(1.6))
	put(0, 5, math.Float32bits(0.25))
	put(1, 0, math.Float32bits(-1.0))

	recs := decodeKeypointRecords(raw, 2)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].X != 1.5 || recs[0].Y != 2.5 {
		t.Errorf("record 0 coords: got (%v, %v), want (1.5, 2.5)", recs[0].X, recs[0].Y)
	}
	if recs[0].Octave != 1 || recs[0].Scale != 2 {
		t.Errorf("record 0 octave/scale: got (%d, %d), want (1, 2)", recs[0].Octave, recs[0].Scale)
	}
	if recs[1].X != -1.0 {
		t.Errorf("record 1 X: got %v, want -1.0", recs[1].X)
	}
}

func TestWholeViewBindingOmitsSize(t *testing.T) {
	v := wholeView(nil, 256)
	if v.offset != 0 || v.size != 256 {
		t.Fatalf("wholeView: got (offset=%d, size=%d), want (0, 256)", v.offset, v.size)
	}
	entry := viewBinding(3, v)
	bb := entry.Resource.(gputypes.BufferBinding)
	if bb.Offset != 0 {
		t.Errorf("whole-buffer view: got offset %d, want 0", bb.Offset)
	}
	if bb.Size != 0 {
		t.Errorf("whole-buffer view: got size %d, want 0 (WebGPU \"rest of buffer\")", bb.Size)
	}
}

func TestOffsetViewBindingCarriesSize(t *testing.T) {
	v := bufView{buf: nil, offset: 512, size: 128}
	entry := viewBinding(2, v)
	bb := entry.Resource.(gputypes.BufferBinding)
	if bb.Offset != 512 || bb.Size != 128 {
		t.Errorf("offset view: got (offset=%d, size=%d), want (512, 128)", bb.Offset, bb.Size)
	}
}
