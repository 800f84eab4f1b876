package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agleyzer/fansone-dl/internal/source"
)

// postSpec is one video to download, from flags or a jobs file.
type postSpec struct {
	ID        string    `yaml:"id"`
	Video     string    `yaml:"video"`
	Domain    string    `yaml:"domain"`
	URL       string    `yaml:"url"`
	Title     string    `yaml:"title"`
	Username  string    `yaml:"username"`
	CreatedAt time.Time `yaml:"createdAt"`
}

func (p postSpec) validate() error {
	if p.ID == "" {
		return fmt.Errorf("post id is required")
	}
	if p.URL == "" && (p.Video == "" || p.Domain == "") {
		return fmt.Errorf("post %s: either url or video and domain are required", p.ID)
	}
	return nil
}

func (p postSpec) source() source.Post {
	return source.Post{ID: p.ID, Video: p.Video, Domain: p.Domain}
}

// loadJobs reads a YAML list of posts.
func loadJobs(path string) ([]postSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	var posts []postSpec
	if err := yaml.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("parse jobs file %s: %w", path, err)
	}
	for i := range posts {
		if err := posts[i].validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	return posts, nil
}

// parseCreated accepts RFC 3339 or a bare date.
func parseCreated(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created time %q", s)
}

func parsePeers(s string) []string {
	var peers []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
