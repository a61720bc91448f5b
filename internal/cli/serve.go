package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/pitchtime/internal/blob/factory"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
	"github.com/roach88/pitchtime/internal/server"
	"github.com/roach88/pitchtime/internal/session"
	"github.com/roach88/pitchtime/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ProtocolDir string
	ListenAddr  string
	DBPath      string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Serve experiments to participants over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Start the HTTP server. Participants open

  /api/v1/experiment?participant=ID

to receive their timeline; audio is served under /stimuli/. The server runs
until interrupted, then drains open requests.`,
		Example: `  pitchtime serve
  pitchtime serve --listen :8080 --db /var/lib/pitchtime/sessions.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProtocolDir, "protocol", "", "CUE protocol directory (default: config protocol.dir)")
	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "listen address (default: config server.listen_addr)")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "session database path (default: config store.path)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg := *opts.config()
	logger := opts.logger()
	if opts.ListenAddr != "" {
		cfg.Server.ListenAddr = opts.ListenAddr
	}
	if opts.DBPath != "" {
		cfg.Store.Path = opts.DBPath
	}
	if opts.ProtocolDir != "" {
		cfg.Protocol.Dir = opts.ProtocolDir
	}

	p, loadErrs := loadProtocol(cfg.Protocol.Dir, protocol.LoadModeFailFast)
	if len(loadErrs) > 0 {
		return WrapExitError(ExitFailure, "protocol failed to load", loadErrs[0])
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open session store", err)
	}
	defer st.Close()

	blobs, err := factory.Open(ctx, cfg.Blob)
	if err != nil {
		return WrapExitError(ExitCommandError, "open blob store", err)
	}

	sessions, err := session.New(p, schedule.NewSource(blobs, cfg.Schedules.Prefix), st,
		session.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "start session service", err)
	}

	logger.Info("starting server",
		zap.String("experiment", p.Name),
		zap.String("code_version", p.CodeVersion),
		zap.String("blob_driver", string(blobs.Driver())),
		zap.String("db", cfg.Store.Path),
		zap.Int("participants", p.Participants.Size()))

	srv := server.New(cfg.Server, server.Deps{
		Sessions: sessions,
		Store:    st,
		Blobs:    blobs,
		Stimuli:  cfg.Stimuli,
		Logger:   logger,
	})
	if err := srv.Run(ctx); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("server on %s", cfg.Server.ListenAddr), err)
	}
	return nil
}
