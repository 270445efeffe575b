package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/23skdu/fletcher-clip/internal/client"
	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

type serveOptions struct {
	model         embeddings.Config
	listenAddr    string
	flightAddr    string
	maxConcurrent int
	serverAddr    string
	datasetName   string
}

func newServeCmd() *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and Arrow Flight encoding servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), o)
		},
	}
	addModelFlags(cmd, &o.model)
	flags := cmd.Flags()
	flags.StringVar(&o.listenAddr, "listen", ":8080", "HTTP listen address")
	flags.StringVar(&o.flightAddr, "flight", "", "Arrow Flight listen address (empty disables)")
	flags.IntVar(&o.maxConcurrent, "max-concurrent", 4, "Maximum concurrent encode requests")
	flags.StringVar(&o.serverAddr, "server", "", "Longbow Flight address to forward embeddings to")
	flags.StringVar(&o.datasetName, "dataset", "clip_prompts", "Target dataset name on server")
	flags.IntVar(&o.model.CacheSize, "cache-size", 1024, "Prompt cache entries (0 disables)")
	return cmd
}

func runServe(ctx context.Context, o serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := embeddings.New(o.model)
	if err != nil {
		return err
	}
	preset := embedder.Encoder().Config.Name

	var forwarder *client.Forwarder
	if o.serverAddr != "" {
		fc, err := client.NewFlightClient(o.serverAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to Longbow: %w", err)
		}
		defer func() { _ = fc.Close() }()
		forwarder = client.NewForwarder(fc, o.datasetName, preset, nil)
		log.Info().Str("server", o.serverAddr).Str("dataset", o.datasetName).Msg("Forwarding embeddings to Longbow")
	}

	return serve(ctx, o, embedder, forwarder, preset)
}

// serve runs the HTTP server, and the Flight server when configured, until
// ctx is done or either fails. Listeners are bound before any server goroutine
// starts, so a setup error leaves nothing running.
func serve(ctx context.Context, o serveOptions, embedder Embedder, forwarder *client.Forwarder, preset string) error {
	ln, err := net.Listen("tcp", o.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", o.listenAddr, err)
	}

	var fs flight.Server
	if o.flightAddr != "" {
		if fs, err = NewFlightServer(o.flightAddr, embedder, preset); err != nil {
			_ = ln.Close()
			return err
		}
	}

	srv := NewServer(embedder, forwarder, preset, o.maxConcurrent)
	httpServer := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Str("preset", preset).Msg("Starting HTTP server")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if fs != nil {
		g.Go(func() error {
			log.Info().Str("addr", fs.Addr().String()).Msg("Starting Flight server")
			// Serve reports ErrServerStopped when shutdown wins the race.
			if err := fs.Serve(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			fs.Shutdown()
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
