package capture

import (
	"bytes"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"
)

// First H.265 IRAP type (BLA_W_LP); IRAP runs through CRA.
const hevcFirstIRAP hevc.NaluType = 16

var (
	startCode3 = []byte{0, 0, 1}
	startCode4 = []byte{0, 0, 0, 1}
)

// AccessUnitInfo summarizes the NAL units of one encoded packet.
type AccessUnitInfo struct {
	NALUnits int
	Keyframe bool // IDR (H.264) or IRAP (H.265) slice present
	SPS      bool
	PPS      bool
	VPS      bool
}

// ParameterSets reports whether the packet carries in-band parameter sets.
func (i AccessUnitInfo) ParameterSets() bool {
	return i.SPS || i.PPS || i.VPS
}

// InspectAccessUnit classifies the NAL units of an H.264 or H.265 packet.
// Other codecs return the zero value.
func InspectAccessUnit(codec VideoCodec, data []byte) AccessUnitInfo {
	var info AccessUnitInfo
	if codec != VideoCodecH264 && codec != VideoCodecH265 {
		return info
	}
	for _, nal := range splitNALUnits(data) {
		if len(nal) == 0 {
			continue
		}
		info.NALUnits++
		if codec == VideoCodecH264 {
			switch avc.GetNaluType(nal[0]) {
			case avc.NALU_IDR:
				info.Keyframe = true
			case avc.NALU_SPS:
				info.SPS = true
			case avc.NALU_PPS:
				info.PPS = true
			}
			continue
		}
		switch t := hevc.GetNaluType(nal[0]); {
		case t >= hevcFirstIRAP && t <= hevc.NALU_CRA:
			info.Keyframe = true
		case t == hevc.NALU_VPS:
			info.VPS = true
		case t == hevc.NALU_SPS:
			info.SPS = true
		case t == hevc.NALU_PPS:
			info.PPS = true
		}
	}
	return info
}

// splitNALUnits returns the NAL units of data. Annex-B start codes are
// tried first, then 4-byte AVCC length prefixes. Data that fits neither
// framing yields nil.
func splitNALUnits(data []byte) [][]byte {
	if bytes.HasPrefix(data, startCode3) || bytes.HasPrefix(data, startCode4) {
		return avc.ExtractNalusFromByteStream(data)
	}
	nals, err := avc.GetNalusFromSample(data)
	if err != nil {
		return nil
	}
	return nals
}
