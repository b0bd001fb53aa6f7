package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"echorelay/internal/app"
	"echorelay/internal/config"
	"echorelay/pkg/e2e"
)

const shutdownTimeout = 30 * time.Second

// Options holds the command line configuration.
type Options struct {
	ConfigFile   string
	ValidateOnly bool
}

func newRootCommand() *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "WebSocket rendezvous relay",
		Long: `relayd accepts WebSocket connections, lets each one claim an identity
with a hello frame and forwards relay frames to whichever connection
currently holds the recipient identity. Payloads are opaque to the relay.

Configuration is read from defaults, then the environment (PORT,
RELAY_*), then the TOML file given with --config or RELAY_CONFIG_FILE.`,
		Example: `  # Serve on the default port 8787
  relayd

  # Serve with a configuration file
  relayd -f /etc/echorelay/relay.toml

  # Check a configuration file and exit
  relayd -f /etc/echorelay/relay.toml --validate-only`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "f", "",
		"path to the relay configuration file (TOML format)")
	cmd.Flags().BoolVar(&opts.ValidateOnly, "validate-only", false,
		"load and validate the configuration, then exit")

	cmd.AddCommand(newKeygenCommand(), newDeriveCommand())
	return cmd
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an X25519 key pair for end-to-end payload encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := e2e.GenerateKeyPair(nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "public: %s\n", e2e.EncodeBase64(kp.Public[:]))
			fmt.Fprintf(out, "secret: %s\n", e2e.EncodeBase64(kp.Secret[:]))
			return nil
		},
	}
}

func newDeriveCommand() *cobra.Command {
	var secret, peer string

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the shared payload key from a secret and a peer public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := e2e.DecodeKey(secret)
			if err != nil {
				return fmt.Errorf("invalid --secret: %w", err)
			}
			pk, err := e2e.DecodeKey(peer)
			if err != nil {
				return fmt.Errorf("invalid --peer: %w", err)
			}
			key, err := e2e.DeriveSharedKey(sk, pk)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e2e.EncodeBase64(key[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "base64 X25519 secret key")
	cmd.Flags().StringVar(&peer, "peer", "", "base64 X25519 public key of the peer")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts down within
// shutdownTimeout.
func run(ctx context.Context, opts Options, out io.Writer) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.ValidateOnly {
		fmt.Fprintf(out, "configuration OK: listening address %s\n", cfg.Addr())
		return nil
	}

	if err := app.ConfigureLogging(cfg.Log); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	a, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("failed to start: %w", err)
	}

	<-ctx.Done()
	logrus.WithFields(logrus.Fields{
		"function": "run",
		"cause":    context.Cause(ctx),
	}).Info("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
