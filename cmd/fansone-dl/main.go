// The fansone-dl command downloads HLS video posts and remuxes them into
// single MP4 or Matroska files, resuming interrupted downloads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agleyzer/fansone-dl/internal/cluster"
	"github.com/agleyzer/fansone-dl/internal/config"
	"github.com/agleyzer/fansone-dl/internal/console"
	"github.com/agleyzer/fansone-dl/internal/fetch"
	"github.com/agleyzer/fansone-dl/internal/httpclient"
	"github.com/agleyzer/fansone-dl/internal/parser"
	"github.com/agleyzer/fansone-dl/internal/pipeline"
	"github.com/agleyzer/fansone-dl/internal/progress"
	"github.com/agleyzer/fansone-dl/internal/remux"
	"github.com/agleyzer/fansone-dl/internal/server"
	"github.com/agleyzer/fansone-dl/internal/source"
)

const (
	version = "1.0.0"
)

type options struct {
	configPath  string
	concurrency int
	statusPort  int
	cookies     string
	downloadDir string
	tempDir     string
	dataFile    string
	ffmpeg      string
	jobsFile    string
	saveConfig  bool
	noProgress  bool
	verbose     bool

	post    postSpec
	created string

	cluster   bool
	raftBind  string
	raftPeers string
	raftData  string
}

func main() {
	var opts options
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.StringVar(&opts.configPath, "config", config.DefaultFile, "Path to the YAML config file")
	flag.IntVar(&opts.concurrency, "concurrency", 0, "Concurrent segment downloads (default from config, 6)")
	flag.IntVar(&opts.statusPort, "status-port", 0, "Serve progress over HTTP on this port (0 disables)")
	flag.StringVar(&opts.cookies, "cookies", "", "Session cookie string (overrides config)")
	flag.StringVar(&opts.downloadDir, "download-dir", "", "Output root directory")
	flag.StringVar(&opts.tempDir, "temp-dir", "", "Segment temp root directory")
	flag.StringVar(&opts.dataFile, "data-file", "", "Progress table file")
	flag.StringVar(&opts.ffmpeg, "ffmpeg", "", "Path to the ffmpeg binary")
	flag.StringVar(&opts.jobsFile, "jobs", "", "YAML file listing posts to download")
	flag.BoolVar(&opts.saveConfig, "save-config", false, "Write the effective configuration to -config and exit")
	flag.BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	flag.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")

	flag.StringVar(&opts.post.ID, "id", "", "Post id")
	flag.StringVar(&opts.post.URL, "url", "", "Playlist URL (skips domain resolution)")
	flag.StringVar(&opts.post.Video, "video", "", "Video reference of the post")
	flag.StringVar(&opts.post.Domain, "domain", "", "Storage domain of the post")
	flag.StringVar(&opts.post.Title, "title", "", "Post title")
	flag.StringVar(&opts.post.Username, "user", "", "Post author")
	flag.StringVar(&opts.created, "created", "", "Post creation time (RFC 3339)")

	flag.BoolVar(&opts.cluster, "cluster", false, "Replicate progress with Raft")
	flag.StringVar(&opts.raftBind, "raft-bind", "", "Raft bind address (host:port)")
	flag.StringVar(&opts.raftPeers, "raft-peers", "", "Comma-separated Raft peer addresses, including this node")
	flag.StringVar(&opts.raftData, "raft-data", "", "Raft snapshot directory")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fansone-dl - HLS video downloader v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -id 123 -video abc -domain video5.fansone.co -title 'My clip' -user alice\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -id 123 -url https://example.com/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -jobs posts.yaml -status-port 8080\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("fansone-dl v%s\n", version)
		os.Exit(0)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.saveConfig {
		if err := config.Save(opts.configPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		logger.Info("saved configuration", "path", opts.configPath)
		return nil
	}

	posts, err := collectPosts(opts)
	if err != nil {
		return err
	}

	repo, shutdown, err := openRepository(ctx, cfg, opts.verbose, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	if opts.statusPort > 0 {
		srv := server.New(repo, opts.statusPort, logger)
		if cs, ok := repo.(*cluster.Store); ok {
			srv.SetCluster(cs.Manager())
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("status server error", "error", err)
			}
		}()
	}

	client := httpclient.New(httpclient.Options{
		Cookie:  cfg.Fansone.Cookies,
		Timeout: cfg.Download.Timeout,
		Logger:  logger,
	})
	sources := source.NewResolver(source.NewSignedURLClient(cfg.Fansone.APIBase, client), logger)

	showBar := !opts.noProgress && console.IsTerminal(os.Stderr)
	p := pipeline.New(pipeline.Options{
		Repository:  repo,
		Resolver:    parser.NewResolver(client, logger),
		Fetcher:     fetch.New(client, client.RetryPolicy(), logger),
		Remuxer:     remux.NewEngine(remux.OpenTS, remux.NewFFmpegFactory(cfg.FFmpeg.Path, logger), logger),
		TempRoot:    cfg.Download.TempDir,
		Concurrency: cfg.Download.Concurrency,
		NewReporter: func(id progress.VideoID) pipeline.Reporter {
			return console.NewBar(os.Stderr, string(id), showBar)
		},
		Logger: logger,
	})

	var failed int
	for _, post := range posts {
		if ctx.Err() != nil {
			break
		}
		if err := downloadPost(ctx, p, sources, cfg, post, logger); err != nil {
			failed++
			var se *pipeline.StageError
			if errors.As(err, &se) {
				logger.Error("video failed", "video_id", se.VideoID, "stage", se.Stage, "error", se.Err)
			} else {
				logger.Error("video failed", "video_id", post.ID, "error", err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d videos failed", failed, len(posts))
	}
	return nil
}

func downloadPost(ctx context.Context, p *pipeline.Pipeline, sources *source.Resolver, cfg *config.Config, post postSpec, logger *slog.Logger) error {
	url := post.URL
	if url == "" {
		var err error
		url, err = sources.PlaylistURL(ctx, post.source())
		if err != nil {
			return &pipeline.StageError{VideoID: progress.VideoID(post.ID), Stage: pipeline.StateResolving, Err: err}
		}
	}

	created := post.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := p.Run(ctx, pipeline.Job{
		VideoID:     progress.VideoID(post.ID),
		PlaylistURL: url,
		Title:       post.Title,
		Username:    post.Username,
		CreatedAt:   created.Local(),
		OutputDir:   pipeline.OutputDir(cfg.Download.Dir, post.Username),
	})
	if err != nil {
		return err
	}

	logger.Info("saved video", "video_id", post.ID, "path", res.OutputPath, "skipped_download", res.SkippedDownload)
	return nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.concurrency != 0 {
		cfg.Download.Concurrency = opts.concurrency
	}
	if opts.cookies != "" {
		cfg.Fansone.Cookies = opts.cookies
	}
	if opts.downloadDir != "" {
		cfg.Download.Dir = opts.downloadDir
	}
	if opts.tempDir != "" {
		cfg.Download.TempDir = opts.tempDir
	}
	if opts.dataFile != "" {
		cfg.Download.DataFile = opts.dataFile
	}
	if opts.ffmpeg != "" {
		cfg.FFmpeg.Path = opts.ffmpeg
	}
	if opts.cluster {
		cfg.Cluster.Enabled = true
	}
	if opts.raftBind != "" {
		cfg.Cluster.BindAddr = opts.raftBind
	}
	if peers := parsePeers(opts.raftPeers); len(peers) > 0 {
		cfg.Cluster.Peers = peers
	}
	if opts.raftData != "" {
		cfg.Cluster.DataDir = opts.raftData
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// collectPosts returns the posts named by -jobs or the single-post flags.
func collectPosts(opts options) ([]postSpec, error) {
	if opts.jobsFile != "" {
		return loadJobs(opts.jobsFile)
	}

	post := opts.post
	created, err := parseCreated(opts.created)
	if err != nil {
		return nil, err
	}
	post.CreatedAt = created

	if err := post.validate(); err != nil {
		return nil, err
	}
	return []postSpec{post}, nil
}

// openRepository returns the progress repository: the JSON file store, or
// a Raft-replicated store in cluster mode.
func openRepository(ctx context.Context, cfg *config.Config, verbose bool, logger *slog.Logger) (progress.Repository, func(), error) {
	if !cfg.Cluster.Enabled {
		if dir := filepath.Dir(cfg.Download.DataFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		store := progress.NewFileStore(cfg.Download.DataFile, logger)
		logger.Info("using progress file", "path", store.Path())
		return store, func() {}, nil
	}

	m, err := cluster.NewManager(cluster.Config{
		RaftID:   cfg.Cluster.RaftID,
		BindAddr: cfg.Cluster.BindAddr,
		Peers:    cfg.Cluster.Peers,
		DataDir:  cfg.Cluster.DataDir,
		Verbose:  verbose,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cluster manager: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start cluster: %w", err)
	}

	logger.Info("waiting for cluster leader")
	if err := m.WaitForLeader(ctx); err != nil {
		m.Shutdown()
		return nil, nil, fmt.Errorf("wait for leader: %w", err)
	}

	shutdown := func() {
		if err := m.Shutdown(); err != nil {
			logger.Error("cluster shutdown failed", "error", err)
		}
	}
	return cluster.NewStore(m), shutdown, nil
}
