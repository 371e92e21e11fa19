// Package dhav implements the resynchronizing DHAV demultiplexer (§4.4):
// it recovers DHAV packets from the byte stream carried inside outer
// 0xbc packets, classifies them as video or audio, parses the extended
// header to determine codec and sample rate, and emits timestamped
// media.Frame values.
//
// The outer 0xbc packet's 32-byte prologue carries no DHAV-relevant
// information once the wire-framing layer (internal/wire) has already
// extracted command and length from it, so Push takes body bytes only;
// the buffer this package maintains is pure DHAV byte stream, searched
// from offset 0 rather than the reference decoder's internal
// prologue-sized bookkeeping offset (see DESIGN.md).
package dhav

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dahuastream/dahuastream/internal/media"
	"github.com/dahuastream/dahuastream/internal/pts"
	"github.com/dahuastream/dahuastream/internal/wire"
)

const (
	fixedHeaderSize = 24
	epilogueSize    = 8
	minPacketSize   = fixedHeaderSize + epilogueSize // 32, the "empty head, empty body" floor
	maxRecords      = 32
	recordSize      = 4

	// maxBufferBytes bounds unbounded growth on a runaway or
	// never-resynchronizing stream (§9).
	maxBufferBytes = 16 << 20
)

const (
	magicDHAV = "DHAV"
	magicDhav = "dhav"
)

// WarningKind classifies a non-fatal demux condition (§7).
type WarningKind int

const (
	WarningPrefixError WarningKind = iota
	WarningCorrupted
	WarningUnknownCodec
)

func (k WarningKind) String() string {
	switch k {
	case WarningPrefixError:
		return "prefix_error"
	case WarningCorrupted:
		return "corrupted"
	case WarningUnknownCodec:
		return "unknown_codec"
	default:
		return "unknown"
	}
}

// Warning is a non-fatal demux event: the buffer was dropped for
// resynchronization, or a single packet was skipped.
type Warning struct {
	Kind WarningKind
	Err  error
}

func (w *Warning) Error() string { return fmt.Sprintf("dhav: %s: %v", w.Kind, w.Err) }
func (w *Warning) Unwrap() error { return w.Err }

var (
	errPrefixExhausted     = errors.New("buffer exhausted before DHAV magic found")
	errEpilogueMismatch    = errors.New("epilogue magic or length mismatch")
	errTotalSizeTooSmall   = errors.New("total_size below the 32-byte minimum")
	errHeadSizeOutOfBounds = errors.New("head_size leaves no room for the epilogue")
)

// Event is one unit of output from a Push call: exactly one of Frame,
// VideoInfo, AudioInfo, or Warning is non-nil.
type Event struct {
	Frame     *media.Frame
	VideoInfo *media.VideoInfo
	AudioInfo *media.AudioInfo
	Warning   *Warning
}

// Demuxer is the resynchronizing DHAV parser described in §4.4. It is
// not safe for concurrent use; the session that owns it drives Push
// from a single goroutine (§5).
type Demuxer struct {
	log   *slog.Logger
	clock *pts.Clock

	buf []byte

	lastVideoCodec media.VideoCodec
	videoInfoSent  bool
	lastAudioCodec media.AudioCodec
	lastAudioRate  int
	audioInfoSent  bool
}

// New creates a Demuxer. If log is nil, slog.Default() is used.
func New(log *slog.Logger, clock *pts.Clock) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		log:   log.With("component", "dhav-demuxer"),
		clock: clock,
	}
}

// Push appends the body of one outer 0xbc packet to the demuxer's
// internal buffer and runs the parsing loop to completion, returning
// every frame, caps-change, and warning event produced. A zero-length
// body is a silent no-op (§8 "Zero-length body on a 0xbc outer packet
// discarded silently").
func (d *Demuxer) Push(body []byte) []Event {
	if len(body) == 0 {
		return nil
	}
	d.buf = append(d.buf, body...)

	events := d.parse()

	if len(d.buf) > maxBufferBytes {
		d.log.Warn("buffer exceeded bound, dropping", "size", len(d.buf))
		d.buf = nil
	}

	return events
}

// parse runs the §4.4 parsing loop until the buffer is exhausted or a
// partial packet is pending ("waiting"; no error, more bytes needed).
func (d *Demuxer) parse() []Event {
	var events []Event

	for len(d.buf) >= minPacketSize {
		idx, found := findMagic(d.buf, magicDHAV)
		if !found {
			events = append(events, Event{Warning: &Warning{Kind: WarningPrefixError, Err: errPrefixExhausted}})
			d.buf = nil
			return events
		}
		if idx > 0 {
			d.log.Debug("resync: discarding leading bytes", "count", idx)
			d.buf = d.buf[idx:]
		}

		if len(d.buf) < fixedHeaderSize {
			return events // wait for more bytes
		}

		h := parseFixedHeader(d.buf)

		kind, ok := classify(h.packetType)
		if !ok {
			if int(h.totalSize) < minPacketSize || len(d.buf) < int(h.totalSize) {
				// Can't trust an unrecognized type's totalSize yet, or
				// it's implausible; drop one byte and keep resyncing.
				d.buf = d.buf[1:]
				continue
			}
			d.buf = d.buf[h.totalSize:]
			continue
		}

		if int(h.totalSize) < minPacketSize {
			events = append(events, Event{Warning: &Warning{Kind: WarningCorrupted, Err: errTotalSizeTooSmall}})
			d.buf = nil
			return events
		}

		if len(d.buf) < int(h.totalSize) {
			return events // wait for more bytes
		}

		packet := d.buf[:h.totalSize]

		if err := validateEpilogue(packet, h.totalSize); err != nil {
			events = append(events, Event{Warning: &Warning{Kind: WarningCorrupted, Err: err}})
			d.buf = nil
			return events
		}

		if int(h.headSize) > int(h.totalSize)-minPacketSize {
			events = append(events, Event{Warning: &Warning{Kind: WarningCorrupted, Err: errHeadSizeOutOfBounds}})
			d.buf = nil
			return events
		}

		extHeader := packet[fixedHeaderSize : fixedHeaderSize+int(h.headSize)]
		bodyStart := fixedHeaderSize + int(h.headSize)
		bodyEnd := len(packet) - epilogueSize
		frameBody := packet[bodyStart:bodyEnd]

		events = append(events, d.classifyAndEmit(kind, h, extHeader, frameBody)...)

		d.buf = d.buf[h.totalSize:]
	}

	return events
}

// classifyAndEmit parses the extended header, updates codec/caps state,
// computes PTS, and builds the Frame/caps-change events for one packet.
func (d *Demuxer) classifyAndEmit(kind media.Kind, h fixedHeader, extHeader, body []byte) []Event {
	var events []Event
	payload := append([]byte(nil), body...)

	switch kind {
	case media.KindVideo:
		value, found := findTag(extHeader, tagVideoInfo)
		if !found {
			return append(events, Event{Warning: &Warning{Kind: WarningUnknownCodec, Err: errors.New("no video-info record in extended header")}})
		}
		codec := videoCodecFromTag(value)
		if codec == media.VideoCodecUnknown {
			return append(events, Event{Warning: &Warning{Kind: WarningUnknownCodec, Err: fmt.Errorf("unknown video codec tag value 0x%06x", value)}})
		}
		if !d.videoInfoSent || codec != d.lastVideoCodec {
			d.lastVideoCodec = codec
			d.videoInfoSent = true
			events = append(events, Event{VideoInfo: &media.VideoInfo{Codec: codec}})
		}
		r := d.clock.Compute(h.epoch, h.ts16)
		events = append(events, Event{Frame: &media.Frame{
			Kind:       media.KindVideo,
			VideoCodec: codec,
			Payload:    payload,
			PTS:        r.PTS,
		}})

	case media.KindAudio:
		value, found := findTag(extHeader, tagAudioInfo)
		if !found {
			return append(events, Event{Warning: &Warning{Kind: WarningUnknownCodec, Err: errors.New("no audio-info record in extended header")}})
		}
		codec, rate := audioCodecFromTag(value)
		if codec == media.AudioCodecUnknown || rate == 0 {
			return append(events, Event{Warning: &Warning{Kind: WarningUnknownCodec, Err: fmt.Errorf("unknown audio format/rate tag value 0x%06x", value)}})
		}
		if !d.audioInfoSent || codec != d.lastAudioCodec || rate != d.lastAudioRate {
			d.lastAudioCodec = codec
			d.lastAudioRate = rate
			d.audioInfoSent = true
			events = append(events, Event{AudioInfo: &media.AudioInfo{Codec: codec, SampleRate: rate}})
		}
		r := d.clock.Compute(h.epoch, h.ts16)
		events = append(events, Event{Frame: &media.Frame{
			Kind:       media.KindAudio,
			AudioCodec: codec,
			SampleRate: rate,
			Payload:    payload,
			PTS:        r.PTS,
		}})
	}

	return events
}

func parseFixedHeader(buf []byte) fixedHeader {
	return fixedHeader{
		packetType: buf[4],
		totalSize:  wire.ReadU32LE(buf[12:16]),
		epoch:      wire.ReadU16LE(buf[16:18]),
		ts16:       wire.ReadU16LE(buf[20:22]),
		headSize:   buf[22],
	}
}

func validateEpilogue(packet []byte, totalSize uint32) error {
	if len(packet) < epilogueSize {
		return errEpilogueMismatch
	}
	tail := packet[len(packet)-epilogueSize:]
	if string(tail[:4]) != magicDhav {
		return errEpilogueMismatch
	}
	if wire.ReadU32LE(tail[4:8]) != totalSize {
		return errEpilogueMismatch
	}
	return nil
}

// findMagic searches buf for the literal needle, returning the index
// of the first match.
func findMagic(buf []byte, needle string) (int, bool) {
	n := len(needle)
	for i := 0; i+n <= len(buf); i++ {
		if string(buf[i:i+n]) == needle {
			return i, true
		}
	}
	return 0, false
}

// findTag scans up to maxRecords 4-byte big-endian extended-header
// records for the first one whose MSB equals tag, returning its low
// 24 bits. A zero-tag record terminates the scan (§3).
func findTag(header []byte, tag byte) (uint32, bool) {
	n := len(header) / recordSize
	if n > maxRecords {
		n = maxRecords
	}
	for i := 0; i < n; i++ {
		word := wire.ReadU32BE(header[i*recordSize : i*recordSize+recordSize])
		recordTag := byte(word >> 24)
		if recordTag == 0 {
			break
		}
		if recordTag == tag {
			return word & 0xFFFFFF, true
		}
	}
	return 0, false
}
