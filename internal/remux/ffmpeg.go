package remux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/asticode/go-astits"
)

const (
	basePID       = 0x100
	partSuffix    = ".part"
	maxStderrTail = 2048

	streamIDVideo   = 0xe0
	streamIDAudio   = 0xc0
	streamIDPrivate = 0xbd
)

// FFmpegMuxer re-wraps packets as a single MPEG-TS stream piped into an
// ffmpeg stream copy, which writes the target container. Output goes to a
// ".part" file that is renamed into place on Close.
type FFmpegMuxer struct {
	path     string
	partPath string
	plan     Plan
	logger   *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	ts     *astits.Muxer

	streams []Stream
	pids    []uint16
	done    bool
}

// NewFFmpegFactory returns a CreateFunc that runs the ffmpeg binary at
// ffmpegPath.
func NewFFmpegFactory(ffmpegPath string, logger *slog.Logger) CreateFunc {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return func(path string, plan Plan) (Muxer, error) {
		return startFFmpeg(ffmpegPath, path, plan, logger)
	}
}

func startFFmpeg(bin, path string, plan Plan, logger *slog.Logger) (*FFmpegMuxer, error) {
	m := &FFmpegMuxer{
		path:     path,
		partPath: path + partSuffix,
		plan:     plan,
		logger:   logger,
		stderr:   &bytes.Buffer{},
	}

	m.cmd = exec.Command(bin, ffmpegArgs(plan, m.partPath)...)
	m.cmd.Stderr = m.stderr
	stdin, err := m.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	m.stdin = stdin

	logger.Debug("starting ffmpeg", "args", strings.Join(m.cmd.Args, " "))
	if err := m.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	m.ts = astits.NewMuxer(context.Background(), stdin)
	return m, nil
}

// ffmpegArgs builds the stream-copy command line. MP4 output maps only
// video and audio, so pass-through streams the plan registered (timed ID3,
// private data) are dropped there; Matroska maps every input stream.
func ffmpegArgs(plan Plan, output string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "mpegts", "-i", "pipe:0",
	}
	if plan.Format == FormatMP4 {
		args = append(args, "-map", "0:v?", "-map", "0:a?")
	} else {
		args = append(args, "-map", "0")
	}
	args = append(args, "-c", "copy", "-ignore_unknown")
	if plan.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, "-f", string(plan.Format), output)
}

func (m *FFmpegMuxer) AddStream(s Stream) (int, error) {
	idx := len(m.streams)
	pid := uint16(basePID + idx)

	st := streamTypeFor(s.Codec)
	if s.CodecTag != 0 {
		st = uint8(s.CodecTag)
	}
	err := m.ts.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: pid,
		StreamType:    astits.StreamType(st),
	})
	if err != nil {
		return 0, err
	}
	if idx == 0 {
		m.ts.SetPCRPID(pid)
	}

	m.streams = append(m.streams, s)
	m.pids = append(m.pids, pid)
	return idx, nil
}

func (m *FFmpegMuxer) WritePacket(p *Packet, stream int) error {
	if stream < 0 || stream >= len(m.streams) {
		return fmt.Errorf("unknown output stream %d", stream)
	}

	oh := &astits.PESOptionalHeader{
		MarkerBits:             2,
		DataAlignmentIndicator: true,
	}
	switch {
	case p.PTS != NoTimestamp && p.DTS != NoTimestamp && p.DTS != p.PTS:
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.PTS = &astits.ClockReference{Base: p.PTS}
		oh.DTS = &astits.ClockReference{Base: p.DTS}
	case p.PTS != NoTimestamp:
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = &astits.ClockReference{Base: p.PTS}
	}

	data := &astits.MuxerData{
		PID: m.pids[stream],
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				StreamID:       m.streamID(p, stream),
				OptionalHeader: oh,
			},
			Data: p.Data,
		},
	}

	if stream == 0 {
		af := &astits.PacketAdaptationField{RandomAccessIndicator: p.Keyframe}
		if pcr := pcrBase(p); pcr != NoTimestamp {
			af.HasPCR = true
			af.PCR = &astits.ClockReference{Base: pcr}
		}
		data.AdaptationField = af
	}

	_, err := m.ts.WriteData(data)
	return err
}

func (m *FFmpegMuxer) streamID(p *Packet, stream int) uint8 {
	if p.StreamID != 0 {
		return p.StreamID
	}
	switch m.streams[stream].Kind {
	case KindVideo:
		return streamIDVideo
	case KindAudio:
		return streamIDAudio
	default:
		return streamIDPrivate
	}
}

func pcrBase(p *Packet) int64 {
	if p.DTS != NoTimestamp {
		return p.DTS
	}
	return p.PTS
}

// Close waits for ffmpeg to finish writing and moves the output into place.
func (m *FFmpegMuxer) Close() error {
	if m.done {
		return nil
	}
	m.done = true

	if err := m.stdin.Close(); err != nil {
		m.logger.Debug("closing ffmpeg stdin", "error", err)
	}
	if err := m.cmd.Wait(); err != nil {
		os.Remove(m.partPath)
		return m.withStderr(fmt.Errorf("ffmpeg: %w", err))
	}
	if err := os.Rename(m.partPath, m.path); err != nil {
		os.Remove(m.partPath)
		return err
	}
	return nil
}

// Abort stops ffmpeg and removes the partial output.
func (m *FFmpegMuxer) Abort() error {
	if m.done {
		return nil
	}
	m.done = true

	m.stdin.Close()
	if m.cmd.Process != nil {
		m.cmd.Process.Kill()
	}
	m.cmd.Wait()

	if err := os.Remove(m.partPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Diagnose attaches ffmpeg's diagnostics to err once the process has
// been aborted or closed. A write into a dead ffmpeg otherwise reports
// only a broken pipe.
func (m *FFmpegMuxer) Diagnose(err error) error {
	if !m.done {
		return err
	}
	return m.withStderr(err)
}

// withStderr appends the tail of ffmpeg's diagnostics. Only valid after Wait.
func (m *FFmpegMuxer) withStderr(err error) error {
	msg := strings.TrimSpace(m.stderr.String())
	if msg == "" {
		return err
	}
	if len(msg) > maxStderrTail {
		msg = msg[len(msg)-maxStderrTail:]
	}
	return fmt.Errorf("%w: %s", err, msg)
}
