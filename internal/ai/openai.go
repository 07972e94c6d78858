package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// systemPrompt は生成バックエンドに与える役割指示。
// 応答はJSONオブジェクト {"text": ..., "fileTree": ...} を要求する。
const systemPrompt = `You are a senior software engineer helping a team inside a shared project room.
Answer concisely. Write modular, maintainable code and handle errors and edge cases.

Always respond with a single JSON object of the form:
{"text": "<explanation for the room>", "fileTree": <object or null>}

When the request asks for code, "fileTree" maps file paths (forward slashes) to
{"file": {"contents": "<file contents>"}}. Otherwise set "fileTree" to null.`

// Default values for OpenAIConfig.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 2048
)

// OpenAIConfig はOpenAI互換バックエンドの設定。
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // 空の場合はライブラリのデフォルト
	Model       string
	Temperature float32
	MaxTokens   int
	// HTTPClient が nil の場合はライブラリのデフォルトクライアントを使用する。
	HTTPClient *http.Client
}

// OpenAIGenerator はChat Completions APIを使うGenerator実装。
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIGenerator はOpenAIGeneratorの新しいインスタンスを生成する。
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// Generate はプロンプトをバックエンドに送り、正規化した応答テキストを返す。
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return NormalizeResponse(content), nil
}

// structuredResponse はJSONオブジェクト以外の応答を包む形式。
type structuredResponse struct {
	Text     string          `json:"text"`
	FileTree json.RawMessage `json:"fileTree"`
}

// NormalizeResponse はバックエンドの応答をメッセージ本文の形式に揃える。
// JSONオブジェクトとして解釈できる場合はコンパクトに再エンコードし、
// それ以外は {"text": raw, "fileTree": null} に包む。
func NormalizeResponse(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(trimmed)); err == nil {
			return buf.String()
		}
	}

	wrapped, err := json.Marshal(structuredResponse{Text: raw, FileTree: json.RawMessage("null")})
	if err != nil {
		return raw
	}
	return string(wrapped)
}
