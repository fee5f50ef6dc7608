package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/config"
	"hevc-frame/pkg/logging"
	"hevc-frame/pkg/streamstore"
	"hevc-frame/pkg/video"
)

var (
	configPath string
	backend    string
	logLevel   string
)

// loadConfig reads the configuration and applies command-line overrides.
func loadConfig() (*config.Manager, *config.Config, error) {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg := mgr.Config()
	if backend != "" {
		cfg.Decoder.Backend = backend
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return mgr, cfg, nil
}

// newRootCmd creates the root command. With no subcommand it plays.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hevc-frame [stream]",
		Short:         "Fullscreen player for raw HEVC elementary streams",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runPlay,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./hevc-frame.{toml,yaml})")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "decoder backend: ffmpeg, gstreamer or loopback")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")

	playCmd := &cobra.Command{
		Use:   "play [stream]",
		Short: "Play a stream in a fullscreen window",
		Long: `Play a raw Annex B stream in a fullscreen window.

Without an argument the stream.path setting is used, then the first stream
found in stream.dir. When the directory is empty and stream.bucket is set,
the first segment of the collection is fetched from S3 first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPlay,
	}

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Report which codecs the decoder backend can play",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List local streams",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			streams, err := streamstore.List(cfg.Stream.Dir)
			if err != nil {
				return err
			}
			for _, s := range streams {
				fmt.Println(s)
			}
			return nil
		},
	}

	var fetchStart, fetchCount int
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download streams from the configured S3 collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd.Context(), fetchStart, fetchCount)
		},
	}
	fetchCmd.Flags().IntVar(&fetchStart, "start", 0, "index of the first object to fetch")
	fetchCmd.Flags().IntVar(&fetchCount, "count", 0, "number of objects to fetch, 0 for all")

	rootCmd.AddCommand(playCmd, probeCmd, listCmd, fetchCmd)
	return rootCmd
}

func runPlay(cmd *cobra.Command, args []string) error {
	mgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Stream.Path
	if len(args) > 0 {
		path = args[0]
	}
	stream, err := resolveStream(cmd.Context(), cfg, path)
	if err != nil {
		return err
	}

	mgr.OnChange(func(c *config.Config) {
		level := c.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		logging.Setup(level, c.Logging.Format)
	})
	mgr.Watch()

	tuneMemory()
	return runHost(cmd.Context(), cfg, stream)
}

// resolveStream finds the stream to play, fetching from S3 when nothing is
// available locally and a bucket is configured.
func resolveStream(ctx context.Context, cfg *config.Config, path string) (string, error) {
	stream, err := streamstore.Resolve(path, cfg.Stream.Dir)
	if err == nil || path != "" || cfg.Stream.Bucket == "" {
		return stream, err
	}
	if !errors.Is(err, streamstore.ErrNoStreams) && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "resolveStream",
		"bucket":   cfg.Stream.Bucket,
		"prefix":   cfg.Stream.Prefix,
	}).Info("No local streams, fetching the first segment")

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return "", err
	}
	paths, _, err := fetcher.FetchSegment(ctx, collection(cfg), 0, 1)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w in s3://%s/%s", streamstore.ErrNoStreams, cfg.Stream.Bucket, cfg.Stream.Prefix)
	}
	return paths[0], nil
}

func collection(cfg *config.Config) streamstore.Collection {
	return streamstore.Collection{
		Title:  cfg.Stream.Prefix,
		Bucket: cfg.Stream.Bucket,
		Prefix: cfg.Stream.Prefix,
	}
}

func newFetcher(cfg *config.Config) (*streamstore.Fetcher, error) {
	client, err := streamstore.NewS3Client(cfg.AWS.Region)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Stream.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stream directory: %w", err)
	}
	return streamstore.NewFetcher(client, cfg.Stream.Dir), nil
}

func runFetch(ctx context.Context, start, count int) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Stream.Bucket == "" {
		return errors.New("stream.bucket is not set")
	}
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	var paths []string
	more := false
	if count <= 0 && start == 0 {
		paths, err = fetcher.FetchAll(ctx, collection(cfg))
	} else {
		paths, more, err = fetcher.FetchSegment(ctx, collection(cfg), start, count)
	}
	if err != nil {
		return err
	}

	for _, p := range paths {
		fmt.Println(p)
	}
	if more {
		fmt.Fprintf(os.Stderr, "more objects available after index %d\n", start+len(paths))
	}
	return nil
}

func runProbe(_ *cobra.Command, _ []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	factory, probe, err := newBackend(cfg.Decoder)
	if err != nil {
		return err
	}

	for _, mime := range []string{video.MIMEHEVC, video.MIMEH264} {
		ok, err := probe.Supports(mime)
		if err != nil {
			return fmt.Errorf("probe %s: %w", mime, err)
		}
		if !ok {
			fmt.Printf("%-12s unsupported by %s\n", mime, cfg.Decoder.Backend)
			continue
		}

		name, err := decoderName(factory, mime)
		if err != nil {
			return err
		}
		rec := video.AnalyzeCodec(video.CodecInfo{
			Name:            name,
			MIME:            mime,
			IsHardwareAccel: isHardwareDecoder(name),
			Width:           cfg.Video.Width,
			Height:          cfg.Video.Height,
			FPS:             float64(cfg.Video.FrameRate),
		})

		fmt.Printf("%-12s %s (hardware=%t optimal=%t)\n", mime, name, rec.IsHardwareAccel, rec.IsOptimal)
		fmt.Printf("%-12s %s\n", "", rec.Reason)
		if rec.ReencodingCommand != "" {
			fmt.Printf("%-12s re-encode: %s\n", "", rec.ReencodingCommand)
		}
	}
	return nil
}

// decoderName creates a decoder for mime to learn which implementation the
// backend picks, then releases it.
func decoderName(factory codec.Factory, mime string) (string, error) {
	dec, err := factory.CreateDecoderByType(mime)
	if err != nil {
		return "", err
	}
	defer dec.Release()

	// the concrete decoder is only picked on Configure
	format := codec.Format{MIME: mime, Width: 64, Height: 64, FrameRate: 30}
	if err := dec.Configure(format, nil); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "decoderName",
			"mime":     mime,
			"error":    err.Error(),
		}).Warn("Probe: decoder configure failed")
	}
	return dec.Name(), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
