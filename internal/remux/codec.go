package remux

// StreamKind is the elementary stream category.
type StreamKind int

const (
	KindOther StreamKind = iota
	KindVideo
	KindAudio
)

func (k StreamKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "other"
	}
}

// Codec identifies an elementary stream encoding. CodecOther covers
// anything without a dedicated value; Stream.CodecName then carries detail.
type Codec int

const (
	CodecOther Codec = iota
	CodecH264
	CodecHEVC
	CodecAV1
	CodecVP9
	CodecMPEG2Video
	CodecAAC
	CodecAACLATM
	CodecMP3
	CodecAC3
	CodecEAC3
	CodecOpus
	CodecTimedID3
)

var codecNames = map[Codec]string{
	CodecOther:      "other",
	CodecH264:       "h264",
	CodecHEVC:       "hevc",
	CodecAV1:        "av1",
	CodecVP9:        "vp9",
	CodecMPEG2Video: "mpeg2video",
	CodecAAC:        "aac",
	CodecAACLATM:    "aac_latm",
	CodecMP3:        "mp3",
	CodecAC3:        "ac3",
	CodecEAC3:       "eac3",
	CodecOpus:       "opus",
	CodecTimedID3:   "timed_id3",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return "other"
}

// Kind returns the stream category the codec belongs to.
func (c Codec) Kind() StreamKind {
	switch c {
	case CodecH264, CodecHEVC, CodecAV1, CodecVP9, CodecMPEG2Video:
		return KindVideo
	case CodecAAC, CodecAACLATM, CodecMP3, CodecAC3, CodecEAC3, CodecOpus:
		return KindAudio
	default:
		return KindOther
	}
}

// MP4 can carry these without a codec tag from the source container.
func (c Codec) mp4Video() bool {
	return c == CodecH264 || c == CodecHEVC || c == CodecAV1
}

func (c Codec) mp4Audio() bool {
	return c == CodecAAC || c == CodecAACLATM || c == CodecMP3
}

// MPEG-TS stream_type values (ISO/IEC 13818-1 table 2-34 and ATSC A/52).
const (
	tsStreamMPEG2Video = 0x02
	tsStreamMPEG1Audio = 0x03
	tsStreamMPEG2Audio = 0x04
	tsStreamPrivate    = 0x06
	tsStreamADTS       = 0x0f
	tsStreamLATM       = 0x11
	tsStreamMetadata   = 0x15
	tsStreamH264       = 0x1b
	tsStreamHEVC       = 0x24
	tsStreamAC3        = 0x81
	tsStreamEAC3       = 0x87
)

func codecFromStreamType(st uint8) Codec {
	switch st {
	case tsStreamMPEG2Video:
		return CodecMPEG2Video
	case tsStreamMPEG1Audio, tsStreamMPEG2Audio:
		return CodecMP3
	case tsStreamADTS:
		return CodecAAC
	case tsStreamLATM:
		return CodecAACLATM
	case tsStreamMetadata:
		return CodecTimedID3
	case tsStreamH264:
		return CodecH264
	case tsStreamHEVC:
		return CodecHEVC
	case tsStreamAC3:
		return CodecAC3
	case tsStreamEAC3:
		return CodecEAC3
	default:
		return CodecOther
	}
}

// streamTypeFor returns the MPEG-TS stream_type that carries codec c, or
// private data when there is no registered value.
func streamTypeFor(c Codec) uint8 {
	switch c {
	case CodecMPEG2Video:
		return tsStreamMPEG2Video
	case CodecMP3:
		return tsStreamMPEG1Audio
	case CodecAAC:
		return tsStreamADTS
	case CodecAACLATM:
		return tsStreamLATM
	case CodecTimedID3:
		return tsStreamMetadata
	case CodecH264:
		return tsStreamH264
	case CodecHEVC:
		return tsStreamHEVC
	case CodecAC3:
		return tsStreamAC3
	case CodecEAC3:
		return tsStreamEAC3
	default:
		return tsStreamPrivate
	}
}
