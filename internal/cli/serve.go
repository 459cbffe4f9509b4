package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/backend"
	"github.com/roach88/cartsync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Catalog  string
	Redis    string
	RedisTTL time.Duration
	Timeout  time.Duration
	Hold     time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	defaults := server.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference cart backend over HTTP",
		Long: `Run the reference cart backend over HTTP.

Carts are priced against a CUE catalog (the bundled one unless --catalog is
given) and kept in memory, or in Redis when --redis is set. Requests for a
cart are applied in sequence order; an early request waits --sequence-hold
for a missing lower one, and a request arriving after a higher sequence was
processed is rejected with OUT_OF_ORDER.

Routes:
  GET  /health
  POST /cart        apply a mutation envelope
  GET  /cart/{id}   fetch a cart

Examples:
  cartsync serve
  cartsync serve --addr :9090 --catalog ./catalog.cue
  cartsync serve --redis localhost:6379 --redis-ttl 30m
  cartsync serve --sequence-hold 0`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", defaults.Addr, "listen address")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to a CUE catalog (default: bundled catalog)")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "Redis address for cart storage (default: in memory)")
	cmd.Flags().DurationVar(&opts.RedisTTL, "redis-ttl", backend.DefaultCartTTL, "base expiry of carts stored in Redis")
	cmd.Flags().DurationVar(&opts.Timeout, "request-timeout", defaults.RequestTimeout, "per-request timeout")
	cmd.Flags().DurationVar(&opts.Hold, "sequence-hold", backend.DefaultSequenceHold,
		"how long a request waits for a missing lower sequence of its cart")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	catalog := backend.DefaultCatalog()
	if opts.Catalog != "" {
		c, err := backend.LoadCatalog(opts.Catalog)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load catalog", err)
		}
		catalog = c
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	memOpts := []backend.MemoryOption{backend.WithSequenceHold(opts.Hold)}
	if opts.Redis != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.Redis})
		defer func() {
			if err := client.Close(); err != nil {
				slog.Error("error closing redis client", "error", err)
			}
		}()
		if err := client.Ping(ctx).Err(); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to reach redis at %s", opts.Redis), err)
		}
		memOpts = append(memOpts, backend.WithRepository(backend.NewRedisRepository(client, opts.RedisTTL)))
		slog.Info("using redis cart storage", "addr", opts.Redis, "ttl", opts.RedisTTL)
	}

	mem := backend.NewMemory(catalog, memOpts...)

	cfg := server.DefaultConfig()
	cfg.Addr = opts.Addr
	cfg.RequestTimeout = opts.Timeout

	slog.Info("catalog loaded",
		"currency", catalog.Currency,
		"merchandise", len(catalog.Merchandise),
		"discounts", len(catalog.Discounts),
		"gift_cards", len(catalog.GiftCards),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving carts on %s. Press Ctrl-C to stop.\n", opts.Addr)

	if err := server.New(mem, cfg).Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
