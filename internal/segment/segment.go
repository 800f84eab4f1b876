// Package segment defines data structures for HLS video segments.
package segment

import "fmt"

// Segment represents a single HLS media segment to download.
type Segment struct {
	// URL is the absolute segment URL, resolved against its playlist
	URL string

	// Duration is the segment duration in seconds, zero when unknown
	Duration float64

	// Sequence is the position in the playlist. It is also the download
	// and playback order.
	Sequence int
}

// FileName returns the name of the local file holding this segment.
func (s Segment) FileName() string {
	return FileName(s.Sequence)
}

// FileName returns the zero-padded file name for the segment at index.
func FileName(index int) string {
	return fmt.Sprintf("%06d%s", index, Ext)
}

// Ext is the extension of downloaded transport-stream segments.
const Ext = ".ts"
