package record

import (
	"errors"
	"fmt"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/zsiec/duet/encode"
)

// ErrNotReady is returned by WriteAudio before the container header exists.
// The header needs the video parameter sets, so audio arriving before the
// first keyframe cannot be accepted; callers drop it.
var ErrNotReady = errors.New("container not ready for samples")

// Track timescales: video in 90 kHz ticks, audio in sample-rate ticks.
const videoTimescale = 90000

// aacSamplesPerFrame is the fixed AAC frame size in PCM samples.
const aacSamplesPerFrame = 1024

// ClipWriter writes one recording's encoded samples into a container file.
// Implementations finalize on Close and discard everything on Abort.
type ClipWriter interface {
	// WriteVideo appends one access unit at its anchor-relative PTS.
	WriteVideo(au encode.AccessUnit) error
	// WriteAudio appends one ADTS frame; ErrNotReady means drop and continue.
	WriteAudio(frame []byte) error
	// Ready reports whether the container accepts samples on both tracks.
	Ready() bool
	// Close finalizes the container to disk.
	Close() error
	// Abort closes and deletes the partial file.
	Abort() error

	VideoSampleCount() int
	AudioSampleCount() int
}

// FMP4Writer streams encoded samples into a fragmented MP4 file: one H.264
// video track and one AAC-LC mono audio track. The init segment is written
// lazily from the parameter sets carried by the first keyframe; each sample
// is flushed as its own fragment so an interrupted recording still holds
// every fragment written before the failure.
type FMP4Writer struct {
	file       *os.File
	path       string
	sampleRate int

	initWritten bool
	seq         uint32

	videoLastDTS int64
	videoSamples int
	defaultDur   uint32

	audioNextDTS int64
	audioSamples int
}

// NewFMP4Writer creates the output file and an unstarted writer. fps sets
// the default video sample duration used until real timestamp deltas exist.
func NewFMP4Writer(path string, sampleRate, fps int) (*FMP4Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create container file: %w", err)
	}
	if fps <= 0 {
		fps = 30
	}
	return &FMP4Writer{
		file:       f,
		path:       path,
		sampleRate: sampleRate,
		seq:        1,
		defaultDur: uint32(videoTimescale / fps),
	}, nil
}

// Ready reports whether the init segment has been written.
func (w *FMP4Writer) Ready() bool { return w.initWritten }

// VideoSampleCount returns the number of video samples appended so far.
func (w *FMP4Writer) VideoSampleCount() int { return w.videoSamples }

// AudioSampleCount returns the number of audio samples appended so far.
func (w *FMP4Writer) AudioSampleCount() int { return w.audioSamples }

// WriteVideo appends one access unit. The first access unit must be a
// keyframe carrying SPS and PPS; units arriving before that are dropped.
func (w *FMP4Writer) WriteVideo(au encode.AccessUnit) error {
	if !w.initWritten {
		sps, pps := encode.ExtractParameterSets(au.Data)
		if sps == nil || pps == nil {
			return nil // cannot initialize yet, drop
		}
		if err := w.writeInit(sps, pps); err != nil {
			return err
		}
	}

	payload := encode.AnnexBToAVCC(au.Data)
	if len(payload) == 0 {
		return nil
	}

	dts := scaleTimestamp(au.PTS, videoTimescale)
	dur := w.defaultDur
	if w.videoSamples > 0 && dts > w.videoLastDTS {
		dur = uint32(dts - w.videoLastDTS)
	}

	part := &fmp4.Part{
		SequenceNumber: w.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       1,
			BaseTime: clampBase(dts),
			Samples: []*fmp4.Sample{{
				Duration:        dur,
				IsNonSyncSample: !au.Key,
				Payload:         payload,
			}},
		}},
	}
	if err := w.writePart(part); err != nil {
		return fmt.Errorf("write video sample: %w", err)
	}

	w.videoLastDTS = dts
	w.videoSamples++
	return nil
}

// WriteAudio appends one ADTS frame as a raw AAC sample. Audio timing is
// synthesized from the fixed AAC frame size: frame N starts at N*1024
// samples, which matches the encoder's continuous PCM input.
func (w *FMP4Writer) WriteAudio(frame []byte) error {
	if !w.initWritten {
		return ErrNotReady
	}

	payload := encode.StripADTSHeader(frame)
	if len(payload) == 0 {
		return nil
	}

	part := &fmp4.Part{
		SequenceNumber: w.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       2,
			BaseTime: clampBase(w.audioNextDTS),
			Samples: []*fmp4.Sample{{
				Duration: aacSamplesPerFrame,
				Payload:  payload,
			}},
		}},
	}
	if err := w.writePart(part); err != nil {
		return fmt.Errorf("write audio sample: %w", err)
	}

	w.audioNextDTS += aacSamplesPerFrame
	w.audioSamples++
	return nil
}

// Close finalizes the file to disk.
func (w *FMP4Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync container: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}
	return nil
}

// Abort closes and removes the partial file.
func (w *FMP4Writer) Abort() error {
	w.file.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial container: %w", err)
	}
	return nil
}

// writeInit writes the init segment describing both tracks.
func (w *FMP4Writer) writeInit(sps, pps []byte) error {
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        1,
				TimeScale: videoTimescale,
				Codec: &mp4.CodecH264{
					SPS: sps,
					PPS: pps,
				},
			},
			{
				ID:        2,
				TimeScale: uint32(w.sampleRate),
				Codec: &mp4.CodecMPEG4Audio{
					Config: mpeg4audio.AudioSpecificConfig{
						Type:         mpeg4audio.ObjectTypeAACLC,
						SampleRate:   w.sampleRate,
						ChannelCount: 1,
					},
				},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal init segment: %w", err)
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	w.initWritten = true
	return nil
}

// writePart marshals and appends one fragment.
func (w *FMP4Writer) writePart(part *fmp4.Part) error {
	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return err
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return err
	}
	w.seq++
	return nil
}

// scaleTimestamp converts microseconds into timescale ticks.
func scaleTimestamp(us int64, timescale uint32) int64 {
	if us <= 0 {
		return 0
	}
	return us * int64(timescale) / 1_000_000
}

func clampBase(dts int64) uint64 {
	if dts < 0 {
		return 0
	}
	return uint64(dts)
}
