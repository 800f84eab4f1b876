package remux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	name    string
	streams []Stream
	packets []Packet
	readErr error
	pos     int
	lib     *fakeLibrary
}

func (s *fakeSource) Streams() []Stream { return s.streams }

func (s *fakeSource) ReadPacket() (*Packet, error) {
	if s.pos >= len(s.packets) {
		if s.readErr != nil {
			return nil, s.readErr
		}
		return nil, io.EOF
	}
	p := s.packets[s.pos]
	s.pos++
	return &p, nil
}

func (s *fakeSource) Close() error {
	s.lib.open--
	s.lib.closed = append(s.lib.closed, s.name)
	return nil
}

type fakeLibrary struct {
	files   map[string]func() *fakeSource
	open    int
	maxOpen int
	opened  []string
	closed  []string
}

func (l *fakeLibrary) Open(path string) (Demuxer, error) {
	mk, ok := l.files[path]
	if !ok {
		return nil, errors.New("invalid data found when processing input")
	}
	src := mk()
	src.name = path
	src.lib = l
	l.open++
	if l.open > l.maxOpen {
		l.maxOpen = l.open
	}
	l.opened = append(l.opened, path)
	return src, nil
}

type writtenPacket struct {
	stream int
	pts    int64
}

type recordingMuxer struct {
	path     string
	plan     Plan
	streams  []Stream
	packets  []writtenPacket
	writeErr error
	closed   bool
	aborted  bool

	diagnostics string
}

func (m *recordingMuxer) AddStream(s Stream) (int, error) {
	m.streams = append(m.streams, s)
	return len(m.streams) - 1, nil
}

func (m *recordingMuxer) WritePacket(p *Packet, stream int) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.packets = append(m.packets, writtenPacket{stream: stream, pts: p.PTS})
	return nil
}

func (m *recordingMuxer) Close() error { m.closed = true; return nil }
func (m *recordingMuxer) Abort() error { m.aborted = true; return nil }

func (m *recordingMuxer) Diagnose(err error) error {
	if m.diagnostics == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, m.diagnostics)
}

func h264AAC() []Stream {
	return []Stream{
		{Index: 0, Kind: KindVideo, Codec: CodecH264, CodecTag: tsStreamH264},
		{Index: 1, Kind: KindAudio, Codec: CodecAAC, CodecTag: tsStreamADTS},
	}
}

func segmentWith(streams []Stream, base int64) func() *fakeSource {
	return func() *fakeSource {
		return &fakeSource{
			streams: streams,
			packets: []Packet{
				{StreamIndex: 0, PTS: base, DTS: base},
				{StreamIndex: 1, PTS: base + 1, DTS: base + 1},
				{StreamIndex: 5, PTS: base + 2, DTS: base + 2},
			},
		}
	}
}

func newTestEngine(lib *fakeLibrary, mux *recordingMuxer) *Engine {
	return NewEngine(lib.Open, func(path string, plan Plan) (Muxer, error) {
		mux.path = path
		mux.plan = plan
		return mux, nil
	}, testLogger)
}

func TestSelectFormat(t *testing.T) {
	tests := []struct {
		name  string
		video *Stream
		audio *Stream
		want  Format
	}{
		{"h264 aac", &Stream{Codec: CodecH264}, &Stream{Codec: CodecAAC}, FormatMP4},
		{"hevc mp3", &Stream{Codec: CodecHEVC}, &Stream{Codec: CodecMP3}, FormatMP4},
		{"av1 latm", &Stream{Codec: CodecAV1}, &Stream{Codec: CodecAACLATM}, FormatMP4},
		{"video only", &Stream{Codec: CodecH264}, nil, FormatMP4},
		{"audio only", nil, &Stream{Codec: CodecAAC}, FormatMP4},
		{"vp9 aac", &Stream{Codec: CodecVP9}, &Stream{Codec: CodecAAC}, FormatMatroska},
		{"mpeg2 video", &Stream{Codec: CodecMPEG2Video}, &Stream{Codec: CodecAAC}, FormatMatroska},
		{"h264 ac3", &Stream{Codec: CodecH264}, &Stream{Codec: CodecAC3}, FormatMatroska},
		{"h264 opus", &Stream{Codec: CodecH264}, &Stream{Codec: CodecOpus}, FormatMatroska},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectFormat(tt.video, tt.audio); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewPlanOrdersStreams(t *testing.T) {
	streams := []Stream{
		{Index: 0, Kind: KindOther, Codec: CodecTimedID3},
		{Index: 1, Kind: KindAudio, Codec: CodecAAC},
		{Index: 2, Kind: KindVideo, Codec: CodecH264},
		{Index: 3, Kind: KindAudio, Codec: CodecAAC},
	}

	plan := NewPlan(streams)

	var order []int
	for _, s := range plan.Streams {
		order = append(order, s.Index)
	}
	want := []int{2, 1, 0}
	if len(order) != len(want) {
		t.Fatalf("Expected stream order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected stream order %v, got %v", want, order)
		}
	}
	if plan.Format != FormatMP4 || plan.Extension != "mp4" || !plan.FastStart {
		t.Errorf("Expected fast-start mp4 plan, got %+v", plan)
	}
}

func TestRemuxMP4(t *testing.T) {
	streams := h264AAC()
	lib := &fakeLibrary{files: map[string]func() *fakeSource{
		"000000.ts": segmentWith(streams, 0),
		"000001.ts": segmentWith(streams, 100),
		"000002.ts": segmentWith(streams, 200),
	}}
	mux := &recordingMuxer{}
	engine := newTestEngine(lib, mux)

	out, err := engine.Remux(context.Background(), []string{"000000.ts", "000001.ts", "000002.ts"}, t.TempDir(), "clip")
	if err != nil {
		t.Fatalf("Remux failed: %v", err)
	}

	if filepath.Base(out) != "clip.mp4" {
		t.Errorf("Expected clip.mp4, got %s", out)
	}
	if mux.path != out {
		t.Errorf("Expected muxer path %s, got %s", out, mux.path)
	}
	if !mux.closed || mux.aborted {
		t.Errorf("Expected muxer closed and not aborted")
	}

	if len(mux.streams) != 2 {
		t.Fatalf("Expected 2 output streams, got %d", len(mux.streams))
	}
	for _, s := range mux.streams {
		if s.CodecTag != 0 {
			t.Errorf("Expected codec tag cleared for mp4, got %#x", s.CodecTag)
		}
	}

	// Stream index 5 is not part of the plan.
	if len(mux.packets) != 6 {
		t.Fatalf("Expected 6 packets, got %d", len(mux.packets))
	}
	wantPTS := []int64{0, 1, 100, 101, 200, 201}
	for i, p := range mux.packets {
		if p.pts != wantPTS[i] {
			t.Errorf("Packet %d: expected pts %d, got %d", i, wantPTS[i], p.pts)
		}
	}

	// probe plus one segment at a time
	if lib.maxOpen > 2 {
		t.Errorf("Expected at most 2 open sources, got %d", lib.maxOpen)
	}
	if lib.open != 0 {
		t.Errorf("Expected all sources closed, %d still open", lib.open)
	}
}

func TestRemuxMatroskaKeepsCodecTag(t *testing.T) {
	streams := []Stream{
		{Index: 0, Kind: KindVideo, Codec: CodecH264, CodecTag: tsStreamH264},
		{Index: 1, Kind: KindAudio, Codec: CodecAC3, CodecTag: tsStreamAC3},
	}
	lib := &fakeLibrary{files: map[string]func() *fakeSource{
		"a.ts": segmentWith(streams, 0),
	}}
	mux := &recordingMuxer{}

	out, err := newTestEngine(lib, mux).Remux(context.Background(), []string{"a.ts"}, t.TempDir(), "clip")
	if err != nil {
		t.Fatalf("Remux failed: %v", err)
	}
	if !strings.HasSuffix(out, ".mkv") {
		t.Errorf("Expected .mkv output, got %s", out)
	}
	if mux.plan.FastStart {
		t.Error("Expected no fast start for matroska")
	}
	if mux.streams[1].CodecTag != tsStreamAC3 {
		t.Errorf("Expected codec tag preserved, got %#x", mux.streams[1].CodecTag)
	}
}

func TestRemuxNoSegments(t *testing.T) {
	lib := &fakeLibrary{}
	_, err := newTestEngine(lib, &recordingMuxer{}).Remux(context.Background(), nil, t.TempDir(), "clip")
	if !errors.Is(err, ErrNoSegments) {
		t.Errorf("Expected ErrNoSegments, got %v", err)
	}
}

func TestRemuxProbeError(t *testing.T) {
	lib := &fakeLibrary{files: map[string]func() *fakeSource{}}
	_, err := newTestEngine(lib, &recordingMuxer{}).Remux(context.Background(), []string{"bad.ts"}, t.TempDir(), "clip")

	var pe *ProbeError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ProbeError, got %v", err)
	}
	if pe.Path != "bad.ts" {
		t.Errorf("Expected path bad.ts, got %s", pe.Path)
	}
}

func TestRemuxWriteFailureAborts(t *testing.T) {
	lib := &fakeLibrary{files: map[string]func() *fakeSource{
		"a.ts": segmentWith(h264AAC(), 0),
	}}
	mux := &recordingMuxer{writeErr: errors.New("broken pipe")}

	_, err := newTestEngine(lib, mux).Remux(context.Background(), []string{"a.ts"}, t.TempDir(), "clip")

	var me *MuxError
	if !errors.As(err, &me) {
		t.Fatalf("Expected MuxError, got %v", err)
	}
	if me.Op != "write packet" {
		t.Errorf("Expected op write packet, got %s", me.Op)
	}
	if !mux.aborted || mux.closed {
		t.Error("Expected muxer aborted and not closed")
	}
	if lib.open != 0 {
		t.Errorf("Expected all sources closed, %d still open", lib.open)
	}
}

func TestRemuxWriteFailureCarriesDiagnostics(t *testing.T) {
	lib := &fakeLibrary{files: map[string]func() *fakeSource{
		"a.ts": segmentWith(h264AAC(), 0),
	}}
	pipeErr := errors.New("broken pipe")
	mux := &recordingMuxer{writeErr: pipeErr, diagnostics: "Invalid data found when processing input"}

	_, err := newTestEngine(lib, mux).Remux(context.Background(), []string{"a.ts"}, t.TempDir(), "clip")

	var me *MuxError
	if !errors.As(err, &me) {
		t.Fatalf("Expected MuxError, got %v", err)
	}
	if !errors.Is(err, pipeErr) {
		t.Errorf("Expected write error to stay in the chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("Expected muxer diagnostics in error, got %v", err)
	}
}

func TestRemuxMissingLaterSegment(t *testing.T) {
	lib := &fakeLibrary{files: map[string]func() *fakeSource{
		"a.ts": segmentWith(h264AAC(), 0),
	}}
	mux := &recordingMuxer{}

	_, err := newTestEngine(lib, mux).Remux(context.Background(), []string{"a.ts", "b.ts"}, t.TempDir(), "clip")

	var me *MuxError
	if !errors.As(err, &me) || me.Path != "b.ts" {
		t.Fatalf("Expected MuxError for b.ts, got %v", err)
	}
	if !mux.aborted {
		t.Error("Expected muxer aborted")
	}
}

func TestRemuxCanceled(t *testing.T) {
	lib := &fakeLibrary{files: map[string]func() *fakeSource{
		"a.ts": segmentWith(h264AAC(), 0),
	}}
	mux := &recordingMuxer{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(lib, mux).Remux(ctx, []string{"a.ts"}, t.TempDir(), "clip")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !mux.aborted {
		t.Error("Expected muxer aborted")
	}
}

func TestFFmpegArgs(t *testing.T) {
	mp4 := NewPlan(h264AAC())
	args := strings.Join(ffmpegArgs(mp4, "out.mp4.part"), " ")
	for _, want := range []string{"-f mpegts -i pipe:0", "-c copy", "-movflags +faststart", "-f mp4 out.mp4.part"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected %q in %q", want, args)
		}
	}

	mkv := NewPlan([]Stream{{Index: 0, Kind: KindVideo, Codec: CodecVP9}})
	args = strings.Join(ffmpegArgs(mkv, "out.mkv.part"), " ")
	if strings.Contains(args, "faststart") {
		t.Errorf("Expected no faststart for matroska: %q", args)
	}
	if !strings.HasSuffix(args, "-f matroska out.mkv.part") {
		t.Errorf("Expected matroska output, got %q", args)
	}
}
