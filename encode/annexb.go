package encode

import "encoding/binary"

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type byte
	Data []byte
}

// ParseAnnexB parses an H.264 Annex B byte stream into individual NAL units.
// It recognizes both 3-byte (0x000001) and 4-byte (0x00000001) start codes.
func ParseAnnexB(data []byte) []NALUnit {
	var units []NALUnit
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}

		nalData := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nalData[0] & 0x1F, Data: nalData})
	}

	return units
}

// IsKeyframeAU reports whether the access unit contains an IDR slice.
func IsKeyframeAU(au []byte) bool {
	for _, nal := range ParseAnnexB(au) {
		if nal.Type == NALTypeIDR {
			return true
		}
	}
	return false
}

// ExtractParameterSets returns the SPS and PPS NAL units carried in the
// access unit, or nil for each that is absent.
func ExtractParameterSets(au []byte) (sps, pps []byte) {
	for _, nal := range ParseAnnexB(au) {
		switch nal.Type {
		case NALTypeSPS:
			if sps == nil {
				sps = nal.Data
			}
		case NALTypePPS:
			if pps == nil {
				pps = nal.Data
			}
		}
	}
	return sps, pps
}

// AnnexBToAVCC converts an Annex B access unit into length-prefixed AVCC
// form for MP4 muxing. Access unit delimiters are dropped; parameter sets
// and slices are kept.
func AnnexBToAVCC(au []byte) []byte {
	nals := ParseAnnexB(au)
	size := 0
	for _, nal := range nals {
		if nal.Type == NALTypeAUD {
			continue
		}
		size += 4 + len(nal.Data)
	}

	out := make([]byte, 0, size)
	var lenBuf [4]byte
	for _, nal := range nals {
		if nal.Type == NALTypeAUD {
			continue
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nal.Data)))
		out = append(out, lenBuf[:]...)
		out = append(out, nal.Data...)
	}
	return out
}

// AUSplitter incrementally splits an Annex B byte stream into access units,
// relying on access unit delimiter NALs (the encoder is run with aud=1).
// Bytes before the first delimiter are discarded.
type AUSplitter struct {
	buf []byte
}

// Push appends stream bytes and returns all newly completed access units.
// An access unit spans one delimiter up to (not including) the next.
func (s *AUSplitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	starts := audPositions(s.buf)
	if len(starts) < 2 {
		return nil
	}

	var aus [][]byte
	for i := 0; i+1 < len(starts); i++ {
		au := make([]byte, starts[i+1]-starts[i])
		copy(au, s.buf[starts[i]:starts[i+1]])
		aus = append(aus, au)
	}

	// Keep from the last delimiter onward.
	remainder := make([]byte, len(s.buf)-starts[len(starts)-1])
	copy(remainder, s.buf[starts[len(starts)-1]:])
	s.buf = remainder
	return aus
}

// Flush returns the trailing partial access unit, if any, and resets the
// splitter.
func (s *AUSplitter) Flush() []byte {
	starts := audPositions(s.buf)
	if len(starts) == 0 {
		s.buf = nil
		return nil
	}
	au := s.buf[starts[0]:]
	s.buf = nil
	if len(ParseAnnexB(au)) <= 1 {
		return nil // delimiter only, no payload
	}
	return au
}

// audPositions returns the byte offsets of the start codes of all access
// unit delimiter NALs in buf.
func audPositions(buf []byte) []int {
	var starts []int
	n := len(buf)
	i := 0
	for i < n-3 {
		if buf[i] == 0 && buf[i+1] == 0 {
			scLen := 0
			if buf[i+2] == 1 {
				scLen = 3
			} else if i < n-4 && buf[i+2] == 0 && buf[i+3] == 1 {
				scLen = 4
			}
			if scLen > 0 && i+scLen < n && buf[i+scLen]&0x1F == NALTypeAUD {
				starts = append(starts, i)
				i += scLen + 1
				continue
			}
			if scLen > 0 {
				i += scLen
				continue
			}
		}
		i++
	}
	return starts
}
