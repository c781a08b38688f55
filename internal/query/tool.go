package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/ratemate/ratemate-go/internal/logging"
)

// Tool exposes the intent grammar to the assistant as an Eino tool. The LLM
// supplies enum values only; the grammar maps them to parameterized SQL.
type Tool struct {
	runner *Runner
}

// toolInput is the JSON-serialisable input schema for Tool.
type toolInput struct {
	// Kind is one of "count", "list", "aggregate".
	Kind string `json:"kind"`

	// Target is one of "posts", "comments", "attachments".
	Target string `json:"target"`

	// Timeframe is one of the accepted timeframe values, e.g. "last_7_days".
	Timeframe string `json:"timeframe"`
}

// NewTool constructs a Tool over the given corpus reader.
func NewTool(reader CorpusReader) *Tool {
	return &Tool{runner: NewRunner(reader)}
}

// Name returns the tool name registered with the agent.
func (t *Tool) Name() string { return "query_database" }

// Description returns the LLM-facing description of this tool.
func (t *Tool) Description() string {
	return "Answers statistical questions about the r/FirstTimeHomeBuyer dataset: " +
		"row counts, average scores, and recent post listings, optionally " +
		"restricted to a timeframe. Use this for questions about how much data " +
		"exists or what was posted recently, not for content questions."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *Tool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	timeframes := make([]string, 0, len(Timeframes()))
	for _, tf := range Timeframes() {
		timeframes = append(timeframes, string(tf))
	}

	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"kind": {
				Type:     schema.String,
				Desc:     "Query shape: 'count' for row counts, 'list' for recent posts, 'aggregate' for average score.",
				Enum:     []string{string(KindCount), string(KindList), string(KindAggregate)},
				Required: true,
			},
			"target": {
				Type:     schema.String,
				Desc:     "Which table to query. Lists and aggregates apply to posts.",
				Enum:     []string{"posts", "comments", "attachments"},
				Required: true,
			},
			"timeframe": {
				Type: schema.String,
				Desc: "Creation time window. Accepted values: " + strings.Join(timeframes, ", ") + ".",
				Enum: timeframes,
			},
		}),
	}, nil
}

// InvokableRun parses the tool call into an intent and executes it. Values
// outside the grammar degrade to the fallback intent instead of erroring, so
// a sloppy tool call still yields an answer the model can work with.
func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input toolInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		logging.FromContext(ctx).Warn("query: unparseable tool call, using fallback intent",
			slog.Any("error", err))
		return t.runner.Run(ctx, FallbackIntent())
	}

	intent, exact := ParseIntent(input.Kind, input.Target, input.Timeframe)
	if !exact {
		logging.FromContext(ctx).Debug("query: tool call outside intent grammar, fields degraded",
			slog.String("kind", input.Kind),
			slog.String("target", input.Target),
			slog.String("timeframe", input.Timeframe))
	}

	answer, err := t.runner.Run(ctx, intent)
	if err != nil {
		return "", fmt.Errorf("query: run intent: %w", err)
	}
	return answer, nil
}
