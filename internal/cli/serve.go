package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/aplbridge/internal/binding"
	"github.com/roach88/aplbridge/internal/config"
	"github.com/roach88/aplbridge/internal/core/memcore"
	"github.com/roach88/aplbridge/internal/journal"
	"github.com/roach88/aplbridge/internal/session"
	"github.com/roach88/aplbridge/internal/transport/ws"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen       string
	Journal      string
	AllowOpenURL bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge with a websocket view host",
		Long: `Run the bridge over HTTP.

A view host connects to /viewhost with a websocket and receives every
outgoing envelope. The host application drives the bridge with POST
requests to /render, /clear, /commands, /interrupt, /back and /datasource
and polls /events for callbacks.

Settings come from --config, then APLBRIDGE_* environment variables, then
the flags below.

Examples:
  aplbridge serve
  aplbridge serve --listen :8420 --journal bridge.db
  APLBRIDGE_SCALING_BIAS_CONSTANT=4 aplbridge serve --config bridge.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides listen_addr)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "sqlite journal path (overrides journal.path)")
	cmd.Flags().BoolVar(&opts.AllowOpenURL, "allow-open-url", false, "report OpenURL commands as handled")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	v := viper.New()
	if err := v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("listen")); err != nil {
		return err
	}
	if err := v.BindPFlag(config.KeyJournalPath, cmd.Flags().Lookup("journal")); err != nil {
		return err
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	cfg, err := config.Load(v, opts.ConfigFile)
	if err != nil {
		return formatter.Fail(commandFailure(ErrCodeConfig, "failed to load configuration", err))
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return formatter.Fail(commandFailure(ErrCodeListen, "failed to listen", err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return formatter.Fail(serve(ctx, cfg, ln, ws.HostOptions{AllowOpenURL: opts.AllowOpenURL}, cmd.OutOrStdout()))
}

// serve runs the bridge on ln until ctx ends. It owns ln.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, hostOpts ws.HostOptions, out io.Writer) error {
	sessionID := uuid.NewString()

	var bindingOpts []binding.Option
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			ln.Close()
			return commandFailure(ErrCodeJournal, "failed to open journal", err)
		}
		defer j.Close()
		bindingOpts = append(bindingOpts, binding.WithSessionOptions(session.WithRecorder(j.Recorder(sessionID))))
	}

	host := ws.NewHost(hostOpts)
	b := binding.New(host, memcore.New(), cfg.Downloader(), cfg.Binding(), bindingOpts...)

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           ws.NewServer(gctx, host, b).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		if err := b.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		b.RunTicker(gctx, cfg.TickInterval)
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("bridge listening", "addr", ln.Addr().String(), "session", sessionID, "journal", cfg.JournalPath)
	fmt.Fprintf(out, "Listening on %s (session %s)\n", ln.Addr(), sessionID)

	err := g.Wait()
	b.Wait()
	slog.Info("bridge stopped", "session", sessionID)
	return err
}
