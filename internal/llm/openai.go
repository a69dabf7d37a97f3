package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/util"
)

const defaultOllamaURL = "http://localhost:11434/v1"

// OpenAIProvider implements the Provider interface for OpenAI-compatible chat APIs.
// Ollama is served through its /v1 compatibility endpoint.
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.Provider == "ollama" {
		if config.BaseURL == "" {
			config.BaseURL = defaultOllamaURL
		}
		if config.APIKey == "" {
			config.APIKey = "ollama" // Ignored by Ollama, required by the client
		}
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY)")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	proxy := util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy)
	clientConfig.HTTPClient = util.NewHTTPClient(config.Timeout, false, proxy)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	if p.config.Provider == "" {
		return "openai"
	}
	return p.config.Provider
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	if _, err := p.client.ListModels(ctx); err != nil {
		log.WithField("provider", p.Name()).WithError(err).Warn("LLM API check failed")
		return false
	}
	return true
}

// Summarize generates a summary using the Chat Completions API
func (p *OpenAIProvider) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt(req.Report, req.Identifiers)
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 1000
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You summarize CitationMap reports using only the publications and numbers you are given.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", p.Name())
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	return &SummarizeResponse{
		Summary:          summary,
		CitedIdentifiers: extractIdentifiers(summary),
		Model:            model,
		TokensUsed:       resp.Usage.TotalTokens,
	}, nil
}

var (
	doiInText  = regexp.MustCompile(`(?i)\b10\.\d{4,9}/[^\s,;()\[\]"']+`)
	pmidInText = regexp.MustCompile(`(?i)\bpmid:?\s*(\d{1,9})\b`)
)

// extractIdentifiers finds DOIs and PMIDs in text, normalized and deduplicated in order
func extractIdentifiers(text string) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(raw string) {
		id, ok := model.NormalizeIdentifier(strings.TrimRight(raw, ".:!?"))
		if ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, m := range doiInText.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range pmidInText.FindAllStringSubmatch(text, -1) {
		add("pmid:" + m[1])
	}
	return ids
}
