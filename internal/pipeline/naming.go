package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agleyzer/fansone-dl/internal/progress"
)

const (
	maxTitleRunes = 80
	fallbackTitle = "video"
	tempDirPrefix = "ts-range-"
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SanitizeName makes s safe as a file or directory name component.
func SanitizeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// BaseName returns the output file name, without extension, for a post:
// <title>-<YYYYMMDD_HHmmss>-#FD<id>. The id suffix keeps names unique
// across posts with the same title and time.
func BaseName(title string, created time.Time, id progress.VideoID) string {
	name := SanitizeName(title)
	if r := []rune(name); len(r) > maxTitleRunes {
		name = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	if name == "" {
		name = fallbackTitle
	}
	return fmt.Sprintf("%s-%s-#FD%s", name, created.Format("20060102_150405"), id)
}

// TempDir returns the segment directory for a video under root.
func TempDir(root string, id progress.VideoID) string {
	return filepath.Join(root, tempDirPrefix+string(id))
}

// OutputDir returns the per-user video directory under root.
func OutputDir(root, username string) string {
	user := SanitizeName(username)
	if user == "" {
		user = "unknown"
	}
	return filepath.Join(root, user, "videos")
}
