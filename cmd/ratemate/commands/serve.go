package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/ratemate/ratemate-go/internal/assistant"
	"github.com/ratemate/ratemate-go/internal/logging"
	"github.com/ratemate/ratemate-go/internal/provider"
	"github.com/ratemate/ratemate-go/internal/server"
	"github.com/ratemate/ratemate-go/internal/tracing"
	"github.com/ratemate/ratemate-go/internal/widgets"
)

// NewServeCmd constructs the `ratemate serve` command, which starts the HTTP
// server exposing the chat API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the RateMate HTTP server",
		Long: `Start the RateMate HTTP server on localhost.

The server exposes a REST/SSE API: streaming chat with citations and
suggested preview widgets, corpus statistics, health and readiness probes,
and Prometheus metrics.

Examples:
  ratemate serve
  ratemate serve --port 9090
  MODEL_PROVIDER=azure ratemate serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()
			log.Info("store opened")

			retriever, searcher, closeRetriever, err := buildRetriever(ctx, st, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeRetriever()

			var sgn assistant.URLSigner
			if s := buildSigner(log); s != nil {
				sgn = s
			}

			a, err := assistant.New(ctx, &assistant.Config{
				ChatModel: chatModel,
				Tools:     buildTools(st),
				Retriever: retriever,
				Signer:    sgn,
				Widgets:   widgets.NewSelector(chatModel),
				History:   st,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise assistant: %w", err)
			}

			pingers := buildPingers(chatModel, providerCfg.Backend, searcher, st)

			srv, err := server.New(a, st, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("RATEMATE_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
