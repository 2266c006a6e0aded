package encode

// AAC sample rate index table (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// ADTSSplitter incrementally splits an ADTS byte stream into complete AAC
// frames. Bytes that do not start at a sync word are skipped until the next
// sync word is found.
type ADTSSplitter struct {
	buf []byte
}

// Push appends stream bytes and returns all newly completed ADTS frames
// (header included).
func (s *ADTSSplitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var frames [][]byte
	offset := 0
	for {
		// Hunt for the 0xFFF sync word.
		for offset < len(s.buf)-1 && !(s.buf[offset] == 0xFF && s.buf[offset+1]&0xF0 == 0xF0) {
			offset++
		}
		if len(s.buf)-offset < 7 {
			break
		}

		frameLen := int(s.buf[offset+3]&0x03)<<11 |
			int(s.buf[offset+4])<<3 |
			int(s.buf[offset+5]>>5)
		if frameLen < 7 {
			// Corrupt header, resync past this sync word.
			offset += 2
			continue
		}
		if offset+frameLen > len(s.buf) {
			break // frame not complete yet
		}

		frame := make([]byte, frameLen)
		copy(frame, s.buf[offset:offset+frameLen])
		frames = append(frames, frame)
		offset += frameLen
	}

	s.buf = s.buf[:copy(s.buf, s.buf[offset:])]
	return frames
}

// ADTSSampleRate returns the sample rate encoded in an ADTS frame header,
// or 0 if the header is malformed.
func ADTSSampleRate(frame []byte) int {
	if len(frame) < 7 || frame[0] != 0xFF || frame[1]&0xF0 != 0xF0 {
		return 0
	}
	idx := (frame[2] >> 2) & 0x0F
	if int(idx) >= len(aacSampleRates) {
		return 0
	}
	return aacSampleRates[idx]
}

// StripADTSHeader removes the ADTS header, returning the raw AAC payload
// MP4 samples require. Returns the input unchanged if no header is present.
func StripADTSHeader(frame []byte) []byte {
	if len(frame) < 7 || frame[0] != 0xFF || frame[1]&0xF0 != 0xF0 {
		return frame
	}
	headerLen := 7
	if frame[1]&0x01 == 0 { // CRC present
		headerLen = 9
	}
	if len(frame) <= headerLen {
		return frame
	}
	return frame[headerLen:]
}
