package main

import (
	"context"
	"os"
	"runtime/pprof"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

type globalFlags struct {
	logLevel   string
	enableOTel bool
	cpuProfile string
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	var cleanups []func()

	root := &cobra.Command{
		Use:           "cliptext",
		Short:         "CLIP text encoder: prompt embeddings for diffusion models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(level)

			if g.enableOTel {
				shutdown, err := initTracer()
				if err != nil {
					return err
				}
				cleanups = append(cleanups, func() { _ = shutdown(context.Background()) })
			}

			if g.cpuProfile != "" {
				f, err := os.Create(g.cpuProfile)
				if err != nil {
					return err
				}
				if err := pprof.StartCPUProfile(f); err != nil {
					_ = f.Close()
					return err
				}
				cleanups = append(cleanups, func() {
					pprof.StopCPUProfile()
					_ = f.Close()
				})
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVar(&g.enableOTel, "otel", false, "Enable OpenTelemetry tracing (stdout)")
	flags.StringVar(&g.cpuProfile, "cpuprofile", "", "Write cpu profile to file")

	root.AddCommand(newEncodeCmd(), newServeCmd(), newInspectCmd(), newExportCmd())
	return root
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("cliptext"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
