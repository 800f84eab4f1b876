// Package playlist writes VOD HLS media playlists.
package playlist

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/agleyzer/fansone-dl/internal/segment"
)

// LocalName is the playlist written next to downloaded segments.
const LocalName = "index.m3u8"

// Media renders a complete VOD media playlist for segments. A
// targetDuration below the longest segment is raised to cover it.
func Media(segments []segment.Segment, targetDuration int) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("cannot create playlist with zero segments")
	}

	for _, seg := range segments {
		if d := int(math.Ceil(seg.Duration)); d > targetDuration {
			targetDuration = d
		}
	}
	if targetDuration < 1 {
		targetDuration = 1
	}

	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", segments[0].Sequence))

	for i, seg := range segments {
		if i > 0 && seg.Sequence != segments[i-1].Sequence+1 {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", seg.Duration))
		b.WriteString(seg.URL)
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String(), nil
}

// WriteLocal writes a playlist into dir that references the downloaded
// segment files by name, so the directory can be played on its own.
func WriteLocal(dir string, segments []segment.Segment, targetDuration int) (string, error) {
	local := make([]segment.Segment, len(segments))
	for i, seg := range segments {
		local[i] = segment.Segment{
			URL:      seg.FileName(),
			Duration: seg.Duration,
			Sequence: seg.Sequence,
		}
	}

	content, err := Media(local, targetDuration)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, LocalName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write local playlist: %w", err)
	}
	return path, nil
}
