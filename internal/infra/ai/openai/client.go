package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/shopwatch/internal/domain/ai"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/scans"
	"github.com/bryanwahyu/shopwatch/internal/infra/ai/prompt"
)

const maxTokens = 2048

type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

func (c *Client) AnalyzePage(ctx context.Context, screenshotURL string, findings []scans.RawFinding) (ai.PageAnalysis, error) {
	userMsg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.PageUserPrompt(findings),
	}
	if screenshotURL != "" {
		userMsg = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt.PageUserPrompt(findings)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: screenshotURL}},
			},
		}
	}

	raw, err := c.complete(ctx, prompt.PageSystemPrompt(), userMsg)
	if err != nil {
		return ai.PageAnalysis{}, err
	}

	var out ai.PageAnalysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ai.PageAnalysis{}, fmt.Errorf("decode page analysis: %w", err)
	}
	return out, nil
}

func (c *Client) AnalyzeIssue(ctx context.Context, iss *issues.Issue, pageURL string) (ai.IssueAnalysis, error) {
	userMsg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.IssueUserPrompt(iss, pageURL),
	}

	raw, err := c.complete(ctx, prompt.IssueSystemPrompt(), userMsg)
	if err != nil {
		return ai.IssueAnalysis{}, err
	}

	var out ai.IssueAnalysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ai.IssueAnalysis{}, fmt.Errorf("decode issue analysis: %w", err)
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, system string, user openai.ChatCompletionMessage) (string, error) {
	model := c.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			user,
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "", ai.ErrQuotaExceeded
		}
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
