// Package assistant wires the Eino ReAct agent to the retrieval pipeline,
// the corpus query tool, and the conversation history to form RateMate.
// Each question runs one retrieval pass, injects the formatted context into
// the system messages, streams the model's answer, and hands back the
// aligned source list plus suggested preview widgets.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/ratemate/ratemate-go/internal/budget"
	"github.com/ratemate/ratemate-go/internal/logging"
	"github.com/ratemate/ratemate-go/internal/rag"
	"github.com/ratemate/ratemate-go/internal/store"
	"github.com/ratemate/ratemate-go/internal/widgets"
)

// systemPrompt establishes the RateMate persona. The citation instructions
// here pair with the numbered SOURCES FOR CITATION block the retrieval
// context carries; the renderer resolves the same numbers on the way out.
const systemPrompt = `You are RateMate, an AI assistant who analyzes the r/FirstTimeHomeBuyer
Reddit database: posts, comments, and document attachments from home buyers
discussing mortgage rates, closing costs, inspections, and the rest of the
buying process.

Be confident and analytical in your answers. When users ask statistical
questions ("how many posts", "recent posts", "posts in the last X days"),
ALWAYS use the query_database tool to get current data - do not guess a
number. When users ask about rates, calculations, or trends from content,
analyze the available data and provide authoritative insights. Present your
findings as definitive database results without mentioning limitations,
methodology, or sample sizes. Never mention "limited data points",
"available context", or "additional data needed", and never reveal your
calculation process. Simply state the results confidently with supporting
citations.

CRITICAL: When referencing information from sources, you MUST use numbered
citations like [1], [2], [3] for BOTH posts AND document attachments. The
context shows you which content comes from which numbered source - always
cite the source number when using that information. Use citations frequently
to support your statements.

IMPORTANT: When using the query_database tool, ALWAYS ALSO reference any
available retrieved sources with citations alongside your tool results -
combine both rather than using one or the other.`

// ragContextInstruction is appended under the retrieval context so the model
// treats the numbered sources as mandatory citation targets.
const ragContextInstruction = `IMPORTANT: You have been provided with context from the database above.
You MUST use and cite this information when relevant to the user's question.
If sources are provided, include numbered citations [1], [2], etc. in your
response. If you use the query_database tool, you MUST STILL cite the
numbered sources above when discussing actual posts - the tool gives you
counts, but the sources show the content you should reference.`

// Retriever runs one retrieval pass for a question. It never fails; degraded
// retrieval yields a smaller result.
type Retriever interface {
	Retrieve(ctx context.Context, question string) *rag.Result
}

// URLSigner mints short-lived URLs for attachment storage keys, best-effort.
type URLSigner interface {
	URLs(ctx context.Context, keys []string) map[string]string
}

// WidgetSuggester decides the preview panels for an answered question, given
// the drafted answer text and the aligned sources.
type WidgetSuggester interface {
	Suggest(ctx context.Context, question, answer string, sources []rag.SourceItem) *widgets.Selection
}

// Config holds the dependencies required to construct an Assistant.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Tools is the list of Eino tools available to the agent.
	Tools []tool.BaseTool

	// Retriever is the retrieval pipeline. May be nil, in which case the
	// assistant answers without corpus context.
	Retriever Retriever

	// Signer presigns attachment URLs in the source list. May be nil.
	Signer URLSigner

	// Widgets suggests preview cards after each answer. May be nil.
	Widgets WidgetSuggester

	// History is the optional conversation store used to persist and replay
	// prior turns. If nil, each question is stateless.
	History store.ConversationStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per question. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for the full input
	// context (system prompt + history + retrieval context + question).
	// History is trimmed oldest-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Assistant wraps the Eino ReAct agent with retrieval-augmented behaviour.
type Assistant struct {
	// reactAgent is the underlying Eino ReAct loop agent.
	reactAgent *react.Agent

	// retriever is the optional retrieval pipeline.
	retriever Retriever

	// signer presigns attachment URLs. May be nil.
	signer URLSigner

	// widgets suggests preview cards. May be nil.
	widgets WidgetSuggester

	// history is the optional conversation store for multi-turn context.
	history store.ConversationStore

	// historyDepth is the number of recent messages to inject per question.
	historyDepth int

	// maxContextTokens is the estimated token budget for the input context.
	maxContextTokens int
}

// Answer is the full outcome of one question: the streamed text plus the
// source list the citations resolve against and the suggested widgets.
type Answer struct {
	// Text is the complete assistant response.
	Text string

	// Sources is the aligned citable source list; citation [n] resolves to
	// Sources[n-1]. Attachment URLs are presigned.
	Sources []rag.SourceItem

	// Widgets is the suggested preview panel selection, nil when there is
	// nothing worth showing.
	Widgets *widgets.Selection

	// Degraded names the content sources whose retrieval failed, if any.
	Degraded []string
}

// New constructs an Assistant from the provided Config.
func New(ctx context.Context, cfg *Config) (*Assistant, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("assistant: ChatModel must not be nil")
	}

	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: cfg.ChatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: cfg.Tools,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: failed to create ReAct agent: %w", err)
	}

	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}

	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Assistant{
		reactAgent:       reactAgent,
		retriever:        cfg.Retriever,
		signer:           cfg.Signer,
		widgets:          cfg.Widgets,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Ask answers one question for the given session, streaming response text to
// w as it arrives. The returned Answer additionally carries the full text,
// the citable sources, and the suggested widgets for the caller to emit as
// trailing events. If a conversation store is configured, prior turns are
// injected and the new turn is persisted after completion.
func (a *Assistant) Ask(ctx context.Context, sessionID, question string, w io.Writer) (*Answer, error) {
	var res *rag.Result
	if a.retriever != nil {
		res = a.retriever.Retrieve(ctx, question)
		a.presignAttachments(ctx, res.Sources)
	}

	messages := a.buildMessages(ctx, sessionID, question, res)

	sr, err := a.reactAgent.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("assistant: stream failed: %w", err)
	}
	defer sr.Close()

	var msgBuf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("assistant: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return nil, fmt.Errorf("assistant: write error: %w", err)
		}
		msgBuf.WriteString(msg.Content)
	}

	answer := &Answer{Text: msgBuf.String()}
	if res != nil {
		answer.Sources = res.Sources
		answer.Degraded = res.Degraded
	}

	// Persist the turn to the conversation store (non-fatal on error).
	if a.history != nil {
		if err := a.history.Append(ctx, sessionID, store.RoleUser, question); err != nil {
			logging.FromContext(ctx).Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := a.history.Append(ctx, sessionID, store.RoleAssistant, answer.Text); err != nil {
			logging.FromContext(ctx).Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}

	if a.widgets != nil {
		answer.Widgets = a.widgets.Suggest(ctx, question, answer.Text, answer.Sources)
	}

	return answer, nil
}

// presignAttachments fills in URLs for attachment sources that only carry a
// storage key. Signing is best-effort: unsigned attachments stay linkless
// and the renderer falls back to in-page anchors for them.
func (a *Assistant) presignAttachments(ctx context.Context, sources []rag.SourceItem) {
	if a.signer == nil {
		return
	}
	var keys []string
	for _, src := range sources {
		if src.Kind == rag.KindAttachment && src.URL == "" && src.AttachmentKey != "" {
			keys = append(keys, src.AttachmentKey)
		}
	}
	if len(keys) == 0 {
		return
	}
	urls := a.signer.URLs(ctx, keys)
	for i := range sources {
		src := &sources[i]
		if src.Kind == rag.KindAttachment && src.URL == "" {
			src.URL = urls[src.AttachmentKey]
		}
	}
}

// buildMessages constructs the message slice for the agent: system prompt,
// trimmed history, retrieval context, then the user question.
func (a *Assistant) buildMessages(ctx context.Context, sessionID, question string, res *rag.Result) []*schema.Message {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
	}

	// Inject recent conversation history so the LLM has multi-turn context.
	// History is trimmed oldest-first to stay within the token budget.
	var historyMsgs []*schema.Message
	if a.history != nil {
		prior, err := a.history.Recent(ctx, sessionID, a.historyDepth*2)
		if err != nil {
			logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		} else {
			for _, m := range prior {
				switch m.Role {
				case store.RoleUser:
					historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
				case store.RoleAssistant:
					historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
				}
			}
		}
	}

	if res != nil {
		ragContext := rag.FormatContext(res) + "\n\n" + ragContextInstruction
		messages = append(messages, schema.SystemMessage(ragContext))
	}

	// Add the current user message to the fixed set for budget calculation.
	fixed := append(messages, schema.UserMessage(question)) //nolint:gocritic // intentional copy

	// Trim history oldest-first so the total estimated token count fits within
	// the configured context budget.
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, a.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	// messages currently holds: [system, ...retrieval context]
	// We want: [system, ...history, ...retrieval context, question]
	result := make([]*schema.Message, 0, len(messages)+len(historyMsgs)+1)
	result = append(result, messages[0])
	result = append(result, historyMsgs...)
	result = append(result, messages[1:]...)
	result = append(result, schema.UserMessage(question))
	return result
}
