package cluster

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// newRaftLogger returns the hclog.Logger handed to raft and its snapshot
// store. Raft is silent unless verbose is set.
func newRaftLogger(verbose bool) hclog.Logger {
	if !verbose {
		return hclog.New(&hclog.LoggerOptions{
			Name:   "raft",
			Level:  hclog.Off,
			Output: io.Discard,
		})
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Debug,
		Output: os.Stderr,
	})
}
