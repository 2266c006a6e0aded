// Package srt provides capture devices backed by remote publishers over SRT.
// A phone or camera rig dials the listener with a stream ID naming its role
// (front, back, mic) and pushes length-delimited raw frame records; the
// listener decodes them into the same sample channels local devices use.
package srt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/duet/media"
)

// Record kinds on the wire.
const (
	recordVideo = 0x01
	recordAudio = 0x02
)

// wireMagic starts every record, guarding against misaligned or foreign data.
var wireMagic = [4]byte{'D', 'U', 'F', '1'}

// maxPayload bounds a single record payload (one 4K BGRA frame is ~33 MB;
// anything larger is a corrupt length field).
const maxPayload = 64 << 20

// Wire format errors.
var (
	ErrBadMagic    = errors.New("bad record magic")
	ErrBadRecord   = errors.New("malformed record")
	ErrPayloadSize = errors.New("record payload exceeds limit")
)

// videoHeaderLen is the fixed header after the magic for a video record:
// kind(1) pts(8) width(4) height(4) stride(4) format(1) payload(4).
const videoHeaderLen = 1 + 8 + 4 + 4 + 4 + 1 + 4

// audioHeaderLen is kind(1) pts(8) payload(4).
const audioHeaderLen = 1 + 8 + 4

// WriteVideo encodes one raw video frame as a wire record.
func WriteVideo(w io.Writer, buf *media.PixelBuffer, pts int64) error {
	hdr := make([]byte, 4+videoHeaderLen)
	copy(hdr, wireMagic[:])
	hdr[4] = recordVideo
	binary.BigEndian.PutUint64(hdr[5:], uint64(pts))
	binary.BigEndian.PutUint32(hdr[13:], uint32(buf.Width))
	binary.BigEndian.PutUint32(hdr[17:], uint32(buf.Height))
	binary.BigEndian.PutUint32(hdr[21:], uint32(buf.Stride))
	hdr[25] = byte(buf.Format)
	binary.BigEndian.PutUint32(hdr[26:], uint32(len(buf.Data)))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(buf.Data)
	return err
}

// WriteAudio encodes one PCM chunk as a wire record.
func WriteAudio(w io.Writer, pcm []byte, pts int64) error {
	hdr := make([]byte, 4+audioHeaderLen)
	copy(hdr, wireMagic[:])
	hdr[4] = recordAudio
	binary.BigEndian.PutUint64(hdr[5:], uint64(pts))
	binary.BigEndian.PutUint32(hdr[13:], uint32(len(pcm)))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// Record is one decoded wire record: a video frame (Pixels set) or an audio
// chunk (PCM set).
type Record struct {
	Pixels *media.PixelBuffer
	PCM    []byte
	PTS    int64
}

// ReadRecord decodes the next record from r. Returns io.EOF cleanly at end
// of stream, io.ErrUnexpectedEOF mid-record.
func ReadRecord(r io.Reader) (*Record, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if magic != wireMagic {
		return nil, fmt.Errorf("%w: %x", ErrBadMagic, magic)
	}

	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	switch kind[0] {
	case recordVideo:
		hdr := make([]byte, videoHeaderLen-1)
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		pts := int64(binary.BigEndian.Uint64(hdr[0:]))
		width := int(binary.BigEndian.Uint32(hdr[8:]))
		height := int(binary.BigEndian.Uint32(hdr[12:]))
		stride := int(binary.BigEndian.Uint32(hdr[16:]))
		format := media.PixelFormat(hdr[20])
		payloadLen := int(binary.BigEndian.Uint32(hdr[21:]))
		if payloadLen > maxPayload {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadSize, payloadLen)
		}

		data := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		return &Record{
			Pixels: &media.PixelBuffer{Width: width, Height: height, Stride: stride, Format: format, Data: data},
			PTS:    pts,
		}, nil

	case recordAudio:
		hdr := make([]byte, audioHeaderLen-1)
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		pts := int64(binary.BigEndian.Uint64(hdr[0:]))
		payloadLen := int(binary.BigEndian.Uint32(hdr[8:]))
		if payloadLen > maxPayload {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadSize, payloadLen)
		}

		pcm := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, pcm); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		return &Record{PCM: pcm, PTS: pts}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind 0x%02x", ErrBadRecord, kind[0])
	}
}
