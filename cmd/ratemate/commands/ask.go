package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ratemate/ratemate-go/internal/assistant"
	"github.com/ratemate/ratemate-go/internal/logging"
	"github.com/ratemate/ratemate-go/internal/provider"
	"github.com/ratemate/ratemate-go/internal/widgets"
)

// NewAskCmd constructs the `ratemate ask` command, which sends a single
// natural language question to the assistant and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the home-buying assistant a question",
		Long: `Ask RateMate a natural language question about buying a home.

Answers are grounded in the ingested r/FirstTimeHomeBuyer corpus and carry
numbered citations; the cited sources are listed after the answer. Pass
--session to continue a prior conversation.

Examples:
  ratemate ask "what rate are people locking this month?"
  ratemate ask "is waiving the inspection ever a good idea?"
  ratemate ask --session fha-questions "what about FHA loan limits?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = st.Close() }()

			retriever, _, closeRetriever, err := buildRetriever(ctx, st, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
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
				return fmt.Errorf("ask: failed to initialise assistant: %w", err)
			}

			if session == "" {
				session = uuid.NewString()
			}

			ans, err := a.Ask(ctx, session, args[0], os.Stdout)
			if err != nil {
				return err //nolint:wrapcheck // CLI entry point — error goes directly to cobra
			}

			if len(ans.Sources) > 0 {
				fmt.Println("\n\nSources:")
				for i, src := range ans.Sources {
					line := fmt.Sprintf("  [%d] %s", i+1, src.Title)
					if src.URL != "" {
						line += " — " + src.URL
					}
					fmt.Println(line)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "", "Conversation session ID for multi-turn context")

	return cmd
}
