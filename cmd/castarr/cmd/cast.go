package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/castarr/internal/cast"
	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/config"
	"github.com/jmylchreest/castarr/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/castarr/internal/http"
	"github.com/jmylchreest/castarr/internal/http/handlers"
	"github.com/jmylchreest/castarr/internal/netutil"
	"github.com/jmylchreest/castarr/internal/observability"
	"github.com/jmylchreest/castarr/internal/publish"
	"github.com/jmylchreest/castarr/internal/repository"
	"github.com/jmylchreest/castarr/internal/source"
	"github.com/jmylchreest/castarr/internal/version"
)

var castCmd = &cobra.Command{
	Use:   "cast <input>",
	Short: "Cast a stream to a renderer",
	Long: `Play an MPEG-TS file or URL, or an HLS playlist, on a DLNA/UPnP renderer.

Streams the renderer decodes natively (AAC audio, H.264 video) are remuxed.
Anything else is converted with ffmpeg; the first video conversion of a
session asks for confirmation unless the warning has been disabled.

The output is published on the local port and the renderer is pointed at it:

  castarr cast --url http://192.168.1.20:49152/description.xml movie.ts`,
	Args: cobra.ExactArgs(1),
	RunE: runCast,
}

func init() {
	rootCmd.AddCommand(castCmd)

	castCmd.Flags().String("url", "", "renderer device description URL")
	castCmd.Flags().String("base-url", "", "base URL for relative control URLs (default: description URL)")
	castCmd.Flags().Int("port", 8080, "local publishing port")
	castCmd.Flags().Bool("video", true, "cast video streams; when false only audio is sent")
	castCmd.Flags().String("conversion-quality", config.QualityMedium, "conversion quality (high, medium, low, low-cpu)")
	castCmd.Flags().Bool("show-perf-warning", true, "ask before the first video conversion")
	castCmd.Flags().String("advertise-ip", "", "local address given to the renderer (default: auto-detect)")
	castCmd.Flags().BoolP("yes", "y", false, "accept conversions without asking")

	mustBindPFlag("renderer.url", castCmd.Flags().Lookup("url"))
	mustBindPFlag("renderer.base_url", castCmd.Flags().Lookup("base-url"))
	mustBindPFlag("output.port", castCmd.Flags().Lookup("port"))
	mustBindPFlag("output.video", castCmd.Flags().Lookup("video"))
	mustBindPFlag("output.conversion_quality", castCmd.Flags().Lookup("conversion-quality"))
	mustBindPFlag("output.show_perf_warning", castCmd.Flags().Lookup("show-perf-warning"))
	mustBindPFlag("output.advertise_ip", castCmd.Flags().Lookup("advertise-ip"))
}

func runCast(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Renderer.Validate(); err != nil {
		return err
	}
	quality, err := codec.ParseQuality(cfg.Output.ConversionQuality)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	logger := observability.WithSessionID(slog.Default(), sessionID)

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath)
	info, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("using ffmpeg",
		slog.String("path", info.FFmpegPath),
		slog.String("version", info.Version),
	)

	publisher := publish.NewServer(logger)
	engine, err := ffmpeg.NewEngine(ffmpeg.EngineConfig{
		FFmpegPath:  info.FFmpegPath,
		LogLevel:    cfg.FFmpeg.LogLevel,
		QueueSize:   cfg.Output.QueueSize,
		VAAPIDevice: cfg.FFmpeg.VAAPIDevice,
		Publisher:   publisher,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	var confirmer chain.Confirmer = cast.TerminalConfirmer{In: os.Stdin, Out: os.Stderr}
	if assumeYes, _ := cmd.Flags().GetBool("yes"); assumeYes {
		confirmer = cast.StaticConfirmer{Answer: chain.Accept}
	}

	planner := chain.NewPlanner(chain.PlannerConfig{
		Port:            cfg.Output.Port,
		Quality:         quality,
		ShowPerfWarning: cfg.Output.ShowPerfWarning,
		Negotiator:      ffmpeg.NewNegotiator(detector, cfg.FFmpeg.HWAccelPriority, logger),
		Confirmer:       confirmer,
		Preference:      repository.NewWarningPreference(st.prefs),
		Logger:          logger,
	})

	session, uctx, err := newRendererSession(cfg.Renderer, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if desc, err := session.Describe(ctx); err != nil {
		logger.Warn("could not describe renderer", slog.String("error", err.Error()))
	} else {
		st.rememberRenderer(ctx, session.DeviceURL(), desc, logger)
		logger.Info("renderer found", slog.String("name", desc.Device.FriendlyName))
	}

	orch := cast.New(cast.Config{
		Planner:   planner,
		Lifecycle: chain.NewLifecycle(engine, logger),
		Renderer:  session,
		Addresses: netutil.NewResolver(netutil.ResolverConfig{
			Override: cfg.Output.AdvertiseIP,
			Target:   rendererHost(cfg.Renderer.URL),
			Logger:   logger,
		}),
		Port:          cfg.Output.Port,
		SupportsVideo: cfg.Output.Video,
		SessionID:     sessionID,
		Logger:        logger,
	})

	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            "0.0.0.0",
		Port:            cfg.Output.Port,
		ReadTimeout:     30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, logger, version.Version)
	server.MountMedia(publisher)
	if cfg.API.Enabled {
		registerAPI(server, st, orch, session, uctx, engine, publisher)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	st.recordCast(ctx, session.DeviceURL(), logger)

	input := source.Open(args[0], source.Config{Realtime: true, Logger: logger})
	logger.Info("casting",
		slog.String("input", input.URI()),
		slog.String("renderer", session.DeviceURL()),
		slog.Int("port", cfg.Output.Port),
	)

	runErr := make(chan error, 1)
	go func() { runErr <- input.Run(ctx, orch) }()

	select {
	case err = <-runErr:
	case err = <-serverErr:
		if err == nil {
			err = errors.New("http server stopped")
		}
		stop()
		<-runErr
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Renderer.Timeout+time.Second)
	defer cancel()
	if cerr := orch.Close(closeCtx); cerr != nil {
		logger.Warn("closing cast session", slog.String("error", cerr.Error()))
	}
	if serr := server.Shutdown(closeCtx); serr != nil {
		logger.Warn("stopping http server", slog.String("error", serr.Error()))
	}

	if errors.Is(err, context.Canceled) {
		logger.Info("cast interrupted")
		return nil
	}
	if errors.Is(err, chain.ErrUserDeclined) {
		logger.Info("conversion declined")
		return nil
	}
	return err
}

func registerAPI(server *internalhttp.Server, st *store, orch *cast.Orchestrator, session handlers.Renderer,
	circuits handlers.CircuitReporter, engine handlers.ChainReporter, mounts handlers.MountLister,
) {
	api := server.API()
	handlers.NewHealthHandler(version.Version).WithDB(st.db.DB).WithCircuits(circuits).Register(api)
	handlers.NewSessionHandler(orch).Register(api)
	handlers.NewRendererHandler(session, st.renderers).Register(api)
	handlers.NewOutputHandler(engine, mounts).Register(api)
	handlers.NewPreferenceHandler(st.prefs).Register(api)
}

// rendererHost returns the host:port of the description URL, used to find
// the route towards the renderer.
func rendererHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return u.Host
}
