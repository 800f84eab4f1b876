package remux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/asticode/go-astits"
)

// tsDemuxer reads PES packets from an MPEG-TS file.
type tsDemuxer struct {
	file    *os.File
	dmx     *astits.Demuxer
	cancel  context.CancelFunc
	streams []Stream
	byPID   map[uint16]int

	// PES data seen before the PMT, replayed first
	pending []*astits.DemuxerData
}

// OpenTS opens an MPEG-TS file and reads ahead to its first program map
// table to learn the elementary streams.
func OpenTS(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &tsDemuxer{
		file:   f,
		dmx:    astits.NewDemuxer(ctx, bufio.NewReaderSize(f, 64*1024)),
		cancel: cancel,
		byPID:  make(map[uint16]int),
	}

	if err := d.readPMT(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *tsDemuxer) readPMT() error {
	for {
		data, err := d.dmx.NextData()
		if errors.Is(err, astits.ErrNoMorePackets) {
			return errors.New("no program map table found")
		}
		if err != nil {
			return fmt.Errorf("demux: %w", err)
		}

		if data.PES != nil {
			d.pending = append(d.pending, data)
			continue
		}
		if data.PMT == nil {
			continue
		}

		for i, es := range data.PMT.ElementaryStreams {
			st := uint8(es.StreamType)
			codec := codecFromStreamType(st)
			name := codec.String()
			if codec == CodecOther {
				name = fmt.Sprintf("stream_type_0x%02x", st)
			}
			d.streams = append(d.streams, Stream{
				Index:     i,
				Kind:      codec.Kind(),
				Codec:     codec,
				CodecName: name,
				CodecTag:  uint32(st),
			})
			d.byPID[es.ElementaryPID] = i
		}
		if len(d.streams) == 0 {
			return errors.New("program map table lists no elementary streams")
		}
		return nil
	}
}

func (d *tsDemuxer) Streams() []Stream {
	out := make([]Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

func (d *tsDemuxer) ReadPacket() (*Packet, error) {
	if len(d.pending) > 0 {
		data := d.pending[0]
		d.pending = d.pending[1:]
		return d.packet(data), nil
	}

	for {
		data, err := d.dmx.NextData()
		if errors.Is(err, astits.ErrNoMorePackets) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("demux: %w", err)
		}
		if data.PES != nil {
			return d.packet(data), nil
		}
	}
}

func (d *tsDemuxer) packet(data *astits.DemuxerData) *Packet {
	pkt := &Packet{
		StreamIndex: -1,
		PTS:         NoTimestamp,
		DTS:         NoTimestamp,
		Data:        data.PES.Data,
	}
	if idx, ok := d.byPID[data.PID]; ok {
		pkt.StreamIndex = idx
	}

	if h := data.PES.Header; h != nil {
		pkt.StreamID = h.StreamID
		if oh := h.OptionalHeader; oh != nil {
			if oh.PTS != nil {
				pkt.PTS = oh.PTS.Base
			}
			if oh.DTS != nil {
				pkt.DTS = oh.DTS.Base
			}
		}
	}

	if fp := data.FirstPacket; fp != nil && fp.AdaptationField != nil {
		pkt.Keyframe = fp.AdaptationField.RandomAccessIndicator
	}
	return pkt
}

func (d *tsDemuxer) Close() error {
	d.cancel()
	return d.file.Close()
}
