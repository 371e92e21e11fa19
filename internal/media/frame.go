// Package media defines the frame and codec types the DHAV demuxer
// emits, decoupled from any particular decode pipeline (§6.5). A
// collaborator (e.g. a GStreamer appsrc wiring) consumes these
// directly; no such collaborator is included in this repository.
package media

// Kind distinguishes video from audio frames.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// VideoCodec identifies the codec carried by a video frame, decoded
// from the DHAV extended header's tag 0x81 (§3).
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecH265
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H.264"
	case VideoCodecH265:
		return "H.265"
	default:
		return "unknown"
	}
}

// AudioCodec identifies the codec carried by an audio frame, decoded
// from the DHAV extended header's tag 0x83 (§3).
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecALAW
	AudioCodecMULAW
	AudioCodecG726
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecALAW:
		return "ALAW"
	case AudioCodecMULAW:
		return "MULAW"
	case AudioCodecG726:
		return "G726"
	case AudioCodecAAC:
		return "AAC"
	default:
		return "unknown"
	}
}

// Frame is a single demultiplexed DHAV access unit, timestamped and
// ready for handoff to a decode pipeline (§3 "Media Frame").
type Frame struct {
	Kind       Kind
	VideoCodec VideoCodec // set when Kind == KindVideo
	AudioCodec AudioCodec // set when Kind == KindAudio
	SampleRate int        // Hz, audio only
	Payload    []byte
	PTS        int64 // ns, see internal/pts
}

// VideoInfo describes a video caps change, signaled on the first video
// frame and whenever the codec changes (§4.4 step 7, §6.5).
type VideoInfo struct {
	Codec VideoCodec
}

// AudioInfo describes an audio caps change, signaled on the first
// audio frame and whenever the format or sample rate changes (§4.4
// step 7, §6.5).
type AudioInfo struct {
	Codec      AudioCodec
	SampleRate int
}
