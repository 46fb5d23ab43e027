package ai

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"google.golang.org/genai"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

const (
	// DefaultModel is the default Gemini model to use
	DefaultModel = "gemini-2.5-flash"
	// DefaultRetryCount is the default number of generate and validate rounds
	DefaultRetryCount = 10
)

//go:embed prompts/gen_graphql.txt
var defaultPrompt string

// ErrNoModel is returned when no language model was configured.
var ErrNoModel = errors.New("no language model configured (set GOOGLE_API_KEY)")

// Message is one turn of a conversation with the model.
type Message struct {
	Role string // "user" or "model"
	Text string
}

// Model answers the last message of a conversation.
type Model interface {
	Respond(ctx context.Context, messages []Message, systemPrompt string) (string, error)
}

type modelKey struct{}

// WithModel adds a Model to the context
func WithModel(ctx context.Context, m Model) context.Context {
	return context.WithValue(ctx, modelKey{}, m)
}

// GetModel retrieves the Model from the context
func GetModel(ctx context.Context) (Model, error) {
	m, ok := ctx.Value(modelKey{}).(Model)
	if !ok || m == nil {
		return nil, ErrNoModel
	}
	return m, nil
}

// isDebugAIEnabled checks if DEBUG_AI environment variable is set
func isDebugAIEnabled() bool {
	value := strings.ToLower(os.Getenv("DEBUG_AI"))
	return value == "true" || value == "1" || value == "yes"
}

// GetRetryCount returns the configured retry count from environment or default
func GetRetryCount() int {
	if count := os.Getenv("LLM_RETRY_COUNT"); count != "" {
		n, err := strconv.Atoi(count)
		if err == nil && n > 0 && n <= 50 {
			return n
		}
	}
	return DefaultRetryCount
}

// getPromptTemplate returns prompts/<name>.txt from the working or executable
// directory when present, else the built-in prompt.
func getPromptTemplate(promptName string) string {
	promptPath := filepath.Join("prompts", promptName+".txt")

	content, err := os.ReadFile(promptPath)
	if err != nil {
		if ex, exErr := os.Executable(); exErr == nil {
			content, err = os.ReadFile(filepath.Join(filepath.Dir(ex), "prompts", promptName+".txt"))
		}
	}
	if err != nil {
		return strings.TrimSpace(defaultPrompt)
	}
	return strings.TrimSpace(string(content))
}

// ptr is a helper function to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}

// GeminiModel talks to the Gemini API.
type GeminiModel struct {
	client      *genai.Client
	name        string
	temperature float32
	logger      *slog.Logger
}

// NewGeminiModel creates a Gemini backed Model.
func NewGeminiModel(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, ErrNoModel
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiModel{client: client, name: modelName, logger: logger}, nil
}

// Respond sends the last message with the earlier ones as chat history.
func (m *GeminiModel) Respond(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("invalid message format")
	}

	startTime := time.Now()
	defer func() {
		m.logger.Debug("Gemini response time", "duration_ms", time.Since(startTime).Milliseconds())
	}()

	var history []*genai.Content
	for _, msg := range messages[:len(messages)-1] {
		if msg.Text == "" {
			continue
		}
		role := "user"
		if msg.Role == "model" {
			role = "model"
		}
		history = append(history, &genai.Content{
			Parts: []*genai.Part{{Text: msg.Text}},
			Role:  role,
		})
	}

	config := &genai.GenerateContentConfig{
		Temperature: ptr(m.temperature),
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	chat, err := m.client.Chats.Create(ctx, m.name, config, history)
	if err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}

	last := messages[len(messages)-1]
	if isDebugAIEnabled() {
		m.logger.Info("DEBUG_AI: System Prompt", "prompt", systemPrompt)
		m.logger.Info("DEBUG_AI: User Message", "text", last.Text)
	}

	resp, err := chat.Send(ctx, &genai.Part{Text: last.Text})
	if err != nil {
		return "", fmt.Errorf("failed to get Gemini response: %w", err)
	}

	responseText := resp.Text()
	if responseText == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}

	if isDebugAIEnabled() {
		m.logger.Info("DEBUG_AI: AI Response", "response", responseText)
	}

	return strings.TrimSpace(responseText), nil
}

var fencedQuery = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n?(.*?)```")

// splitResponse separates the fenced query from the surrounding
// explanation. A response without a fence is taken as the query.
func splitResponse(response string) (query, explanation string) {
	response = strings.TrimSpace(response)
	loc := fencedQuery.FindStringSubmatchIndex(response)
	if loc == nil {
		return response, ""
	}

	query = strings.TrimSpace(response[loc[2]:loc[3]])
	var rest []string
	for _, part := range []string{response[:loc[0]], response[loc[1]:]} {
		if part = strings.TrimSpace(part); part != "" {
			rest = append(rest, part)
		}
	}
	return query, strings.Join(rest, "\n")
}

// validateQuery returns "" when the query parses, is read-only and runs
// without errors, else the problem to feed back to the model.
func validateQuery(ctx context.Context, facade *graphql.QueryFacade, query string) string {
	if strings.TrimSpace(query) == "" {
		return "query is empty"
	}

	doc, err := parser.ParseQuery(&ast.Source{Name: "generated.graphql", Input: graphql.NormalizeQuery(query)})
	if err != nil {
		return fmt.Sprintf("syntax error: %v", err)
	}
	if len(doc.Operations) != 1 {
		return fmt.Sprintf("expected exactly one operation, got %d", len(doc.Operations))
	}
	if op := doc.Operations[0].Operation; op != ast.Query {
		return fmt.Sprintf("only queries are allowed, got a %s", op)
	}

	res, err := facade.Validate(ctx, query)
	if err != nil {
		return err.Error()
	}
	if !res.Success && res.Error != nil {
		return *res.Error
	}
	return ""
}
