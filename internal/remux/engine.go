// Package remux reassembles ordered transport-stream segments into a single
// MP4 or Matroska file without re-encoding.
package remux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// NoTimestamp marks an absent PTS or DTS.
const NoTimestamp int64 = -1

// Stream is one elementary stream of a demuxed source.
type Stream struct {
	// Index is the position of the stream within its source
	Index int

	Kind      StreamKind
	Codec     Codec
	CodecName string

	// CodecTag is container-specific codec metadata. It does not survive a
	// container change and is cleared for MP4 output.
	CodecTag uint32
}

// Packet is one demuxed access unit with its original timing, in 90kHz
// units.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Keyframe    bool

	// StreamID is the source PES stream_id, zero when unknown
	StreamID uint8

	Data []byte
}

// Demuxer reads packets from one source file in file order.
type Demuxer interface {
	Streams() []Stream
	// ReadPacket returns io.EOF after the last packet.
	ReadPacket() (*Packet, error)
	Close() error
}

// Muxer writes packets into a single output file.
type Muxer interface {
	// AddStream registers an output stream and returns its index.
	AddStream(s Stream) (int, error)
	WritePacket(p *Packet, stream int) error
	// Close flushes trailer and index data and finalizes the output.
	Close() error
	// Abort discards the output after a failure.
	Abort() error
}

// OpenFunc opens a segment file for demuxing.
type OpenFunc func(path string) (Demuxer, error)

// CreateFunc creates the output muxer for a plan at path.
type CreateFunc func(path string, plan Plan) (Muxer, error)

// ErrNoSegments is returned when there is nothing to remux.
var ErrNoSegments = errors.New("no segments to remux")

// ProbeError reports a first segment that could not be opened as a
// demuxable container.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// MuxError reports a failure while producing the output file.
type MuxError struct {
	Op   string
	Path string
	Err  error
}

func (e *MuxError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *MuxError) Unwrap() error { return e.Err }

// diagnoser is implemented by muxers that can explain a failed write
// after Abort, such as an external process that exited early.
type diagnoser interface {
	Diagnose(err error) error
}

// Engine remuxes segments using pluggable demuxer and muxer implementations.
type Engine struct {
	open   OpenFunc
	create CreateFunc
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(open OpenFunc, create CreateFunc, logger *slog.Logger) *Engine {
	return &Engine{open: open, create: create, logger: logger}
}

// Remux writes the packets of files, in the given order, into
// outputDir/baseName.<ext> and returns the output path. Files must be
// sorted by segment index; any other order breaks timestamp continuity.
func (e *Engine) Remux(ctx context.Context, files []string, outputDir, baseName string) (string, error) {
	if len(files) == 0 {
		return "", ErrNoSegments
	}

	probe, err := e.open(files[0])
	if err != nil {
		return "", &ProbeError{Path: files[0], Err: err}
	}
	defer probe.Close()

	streams := probe.Streams()
	if len(streams) == 0 {
		return "", &ProbeError{Path: files[0], Err: errors.New("no elementary streams")}
	}

	plan := NewPlan(streams)
	e.logger.Info("inferred output format",
		"format", plan.Format,
		"video", codecLabel(plan.Video),
		"audio", codecLabel(plan.Audio),
		"extra_streams", len(plan.Streams)-countNonNil(plan.Video, plan.Audio),
	)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &MuxError{Op: "create output directory", Path: outputDir, Err: err}
	}
	outputPath := filepath.Join(outputDir, baseName+"."+plan.Extension)
	e.logger.Info("remux output", "path", outputPath, "segments", len(files))

	mux, err := e.create(outputPath, plan)
	if err != nil {
		return "", &MuxError{Op: "create muxer", Path: outputPath, Err: err}
	}

	if err := e.write(ctx, mux, plan, files, outputPath); err != nil {
		if aerr := mux.Abort(); aerr != nil {
			e.logger.Warn("failed to discard partial output", "path", outputPath, "error", aerr)
		}
		var me *MuxError
		if d, ok := mux.(diagnoser); ok && errors.As(err, &me) {
			me.Err = d.Diagnose(me.Err)
		}
		return "", err
	}

	if err := mux.Close(); err != nil {
		return "", &MuxError{Op: "finalize", Path: outputPath, Err: err}
	}
	return outputPath, nil
}

func (e *Engine) write(ctx context.Context, mux Muxer, plan Plan, files []string, outputPath string) error {
	mapping := make(map[int]int, len(plan.Streams))
	for _, s := range plan.Streams {
		if plan.Format == FormatMP4 {
			s.CodecTag = 0
		}
		dst, err := mux.AddStream(s)
		if err != nil {
			return &MuxError{Op: "add stream", Path: outputPath, Err: err}
		}
		mapping[s.Index] = dst
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.copySegment(ctx, mux, mapping, file, outputPath); err != nil {
			return err
		}
	}
	return nil
}

// copySegment streams one segment's mapped packets into mux. The segment
// is closed before returning.
func (e *Engine) copySegment(ctx context.Context, mux Muxer, mapping map[int]int, file, outputPath string) error {
	src, err := e.open(file)
	if err != nil {
		return &MuxError{Op: "open segment", Path: file, Err: err}
	}
	defer src.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &MuxError{Op: "read segment", Path: file, Err: err}
		}

		dst, ok := mapping[pkt.StreamIndex]
		if !ok {
			continue
		}
		if err := mux.WritePacket(pkt, dst); err != nil {
			return &MuxError{Op: "write packet", Path: outputPath, Err: err}
		}
	}
}

func codecLabel(s *Stream) string {
	if s == nil {
		return "none"
	}
	if s.CodecName != "" {
		return s.CodecName
	}
	return s.Codec.String()
}

func countNonNil(streams ...*Stream) int {
	n := 0
	for _, s := range streams {
		if s != nil {
			n++
		}
	}
	return n
}
