package remux

// Format is an output container.
type Format string

const (
	FormatMP4      Format = "mp4"
	FormatMatroska Format = "matroska"
)

// Extension returns the file extension used for the container.
func (f Format) Extension() string {
	if f == FormatMP4 {
		return "mp4"
	}
	return "mkv"
}

// Plan is the output layout derived from the probe of the first segment.
type Plan struct {
	Format    Format
	Extension string

	// FastStart moves the MP4 index to the front of the file.
	FastStart bool

	Video *Stream
	Audio *Stream

	// Streams lists source streams in registration order: video, audio,
	// then every non-audio, non-video stream.
	Streams []Stream
}

// NewPlan picks at most one video and one audio stream, passes every other
// non-audio, non-video stream through, and chooses the container.
func NewPlan(streams []Stream) Plan {
	var plan Plan
	for i := range streams {
		s := streams[i]
		switch {
		case s.Kind == KindVideo && plan.Video == nil:
			plan.Video = &s
		case s.Kind == KindAudio && plan.Audio == nil:
			plan.Audio = &s
		}
	}

	if plan.Video != nil {
		plan.Streams = append(plan.Streams, *plan.Video)
	}
	if plan.Audio != nil {
		plan.Streams = append(plan.Streams, *plan.Audio)
	}
	for _, s := range streams {
		if s.Kind != KindVideo && s.Kind != KindAudio {
			plan.Streams = append(plan.Streams, s)
		}
	}

	plan.Format = SelectFormat(plan.Video, plan.Audio)
	plan.Extension = plan.Format.Extension()
	plan.FastStart = plan.Format == FormatMP4
	return plan
}

// SelectFormat returns MP4 when both the video and audio codecs (if
// present) are MP4-compatible, and Matroska otherwise.
func SelectFormat(video, audio *Stream) Format {
	videoOK := video == nil || video.Codec.mp4Video()
	audioOK := audio == nil || audio.Codec.mp4Audio()
	if videoOK && audioOK {
		return FormatMP4
	}
	return FormatMatroska
}
