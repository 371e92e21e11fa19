package dhav

import "github.com/dahuastream/dahuastream/internal/media"

// DHAV packet type bytes (§3).
const (
	packetTypeVideoI = 0xfc
	packetTypeVideoP = 0xfd
	packetTypeAudio  = 0xf0
)

// Extended-header record tags (§3, §9 Open Questions: tags 0x88/0x82
// are dead branches in the reference and are not handled here).
const (
	tagVideoInfo = 0x81
	tagAudioInfo = 0x83
)

// fixedHeader is the 24-byte DHAV fixed header (§3).
type fixedHeader struct {
	packetType byte
	totalSize  uint32
	headSize   byte
	epoch      uint16
	ts16       uint16
}

func classify(packetType byte) (media.Kind, bool) {
	switch packetType {
	case packetTypeVideoI, packetTypeVideoP:
		return media.KindVideo, true
	case packetTypeAudio:
		return media.KindAudio, true
	default:
		return media.Kind(-1), false
	}
}

// videoCodecFromTag maps the extended-header tag 0x81 value's bits
// 8..15 to a VideoCodec (§3: "1=H.264, 2=H.265").
func videoCodecFromTag(value uint32) media.VideoCodec {
	switch (value >> 8) & 0xFF {
	case 1:
		return media.VideoCodecH264
	case 2:
		return media.VideoCodecH265
	default:
		return media.VideoCodecUnknown
	}
}

// Audio format/rate codes carried in the low 16 bits of the tag 0x83
// extended-header record: bits 8..15 select the format, bits 0..7
// select the rate (§3, §4.4 step 7). The device firmware does not
// document these codes publicly; the mapping below is an assumed small
// ordinal enumeration, not taken from the reference decoder's own
// definitions (see DESIGN.md).
const (
	audioRate8000  = 0
	audioRate16000 = 1
	audioRate64000 = 2

	audioFormatALAW  = 1
	audioFormatMULAW = 2
	audioFormatG726  = 3
	audioFormatAAC   = 4
)

func audioCodecFromTag(value uint32) (media.AudioCodec, int) {
	format := (value >> 8) & 0xFF
	rate := value & 0xFF

	var codec media.AudioCodec
	switch format {
	case audioFormatALAW:
		codec = media.AudioCodecALAW
	case audioFormatMULAW:
		codec = media.AudioCodecMULAW
	case audioFormatG726:
		codec = media.AudioCodecG726
	case audioFormatAAC:
		codec = media.AudioCodecAAC
	default:
		codec = media.AudioCodecUnknown
	}

	var rateHz int
	switch rate {
	case audioRate8000:
		rateHz = 8000
	case audioRate16000:
		rateHz = 16000
	case audioRate64000:
		rateHz = 64000
	default:
		rateHz = 0
	}

	return codec, rateHz
}
