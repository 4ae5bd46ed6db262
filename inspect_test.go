package capture

import (
	"bytes"
	"testing"

	"github.com/Eyevinn/mp4ff/avc"
)

func TestInspectAccessUnit_H264(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want AccessUnitInfo
	}{
		{
			name: "annexb keyframe with parameter sets",
			data: []byte{
				0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, // SPS
				0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80, // PPS
				0x00, 0x00, 0x01, 0x65, 0x88, 0x84, // IDR
			},
			want: AccessUnitInfo{NALUnits: 3, Keyframe: true, SPS: true, PPS: true},
		},
		{
			name: "annexb slice only",
			data: []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x02},
			want: AccessUnitInfo{NALUnits: 1},
		},
		{
			name: "avcc idr without parameter sets",
			data: []byte{
				0x00, 0x00, 0x00, 0x02, 0x06, 0x05, // SEI
				0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x84, // IDR
			},
			want: AccessUnitInfo{NALUnits: 2, Keyframe: true},
		},
		{
			name: "avcc sps",
			data: []byte{0x00, 0x00, 0x00, 0x03, 0x67, 0x64, 0x00},
			want: AccessUnitInfo{NALUnits: 1, SPS: true},
		},
		{
			name: "truncated avcc",
			data: []byte{0x00, 0x00, 0x00, 0x09, 0x65, 0x88},
			want: AccessUnitInfo{},
		},
		{
			name: "empty",
			data: nil,
			want: AccessUnitInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InspectAccessUnit(VideoCodecH264, tt.data)
			if got != tt.want {
				t.Errorf("InspectAccessUnit() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInspectAccessUnit_H265(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x40, 0x01, 0x0c, // VPS (32)
		0x00, 0x00, 0x00, 0x01, 0x42, 0x01, 0x01, // SPS (33)
		0x00, 0x00, 0x00, 0x01, 0x44, 0x01, 0xc1, // PPS (34)
		0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xaf, // IDR_W_RADL (19)
	}
	got := InspectAccessUnit(VideoCodecH265, data)
	want := AccessUnitInfo{NALUnits: 4, Keyframe: true, VPS: true, SPS: true, PPS: true}
	if got != want {
		t.Errorf("InspectAccessUnit() = %+v, want %+v", got, want)
	}
	if !got.ParameterSets() {
		t.Error("ParameterSets() = false, want true")
	}
}

func TestInspectAccessUnit_OtherCodec(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42}
	if got := InspectAccessUnit(VideoCodecVP9, data); got != (AccessUnitInfo{}) {
		t.Errorf("InspectAccessUnit(VP9) = %+v, want zero value", got)
	}
}

func TestSplitAnnexB_MixedStartCodes(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x01, 0x09, 0xf0, // AUD, 3-byte start code
		0x00, 0x00, 0x00, 0x01, 0x41, 0x01, // slice, 4-byte start code
	}
	nals := splitNALUnits(data)
	if len(nals) != 2 {
		t.Fatalf("got %d NAL units, want 2", len(nals))
	}
	if !bytes.Equal(nals[0], []byte{0x09, 0xf0}) {
		t.Errorf("nal[0] = %x, want 09f0", nals[0])
	}
	if !bytes.Equal(nals[1], []byte{0x41, 0x01}) {
		t.Errorf("nal[1] = %x, want 4101", nals[1])
	}
	if avc.GetNaluType(nals[0][0]) != avc.NALU_AUD || avc.GetNaluType(nals[1][0]) != avc.NALU_NON_IDR {
		t.Errorf("unexpected NAL types %d, %d", avc.GetNaluType(nals[0][0]), avc.GetNaluType(nals[1][0]))
	}
}
