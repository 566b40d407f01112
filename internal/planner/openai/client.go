package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ChainPilot/internal/capability"
	"ChainPilot/internal/planner"
	"ChainPilot/internal/session"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容端点充当规划器。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建规划器客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供规划器 API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Complete 发送一次咨询并返回规划器的原始文本回复。
func (c *Client) Complete(ctx context.Context, req planner.Request) (string, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建规划器请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求规划器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("规划器返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析规划器响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("规划器响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("规划器响应内容为空")
	}
	return content, nil
}

func (c *Client) buildPayload(req planner.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := make([]message, 0, len(req.Messages)+1)
	messages = append(messages, message{
		Role:    "system",
		Content: buildSystemPrompt(req.Capabilities),
	})
	for _, msg := range req.Messages {
		switch msg.Role {
		case session.RoleUser:
			messages = append(messages, message{Role: "user", Content: msg.Content})
		case session.RoleAssistant:
			messages = append(messages, message{Role: "assistant", Content: msg.Content})
		case session.RoleFunction:
			// 能力结果以用户可见的形式回放，保证规划器看到每一次调用的输出。
			messages = append(messages, message{
				Role:    "user",
				Content: fmt.Sprintf("[能力 %s 的结果] %s", msg.Name, msg.Content),
			})
		case session.RoleSystem:
			messages = append(messages, message{Role: "system", Content: msg.Content})
		}
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化规划器请求失败: %w", err)
	}
	return encoded, nil
}

const systemFraming = "" +
	"You are the planning core of ChainPilot, a conversational crypto assistant. " +
	"Reply with plain text when you can answer directly. " +
	"When an external capability is needed, reply with exactly one JSON object: " +
	`{"action": {"name": string, "arguments": object}}. ` +
	"Never invent capability names outside the catalogue below."

func buildSystemPrompt(capabilities []capability.Descriptor) string {
	var builder strings.Builder
	builder.WriteString(systemFraming)
	if len(capabilities) == 0 {
		return builder.String()
	}
	builder.WriteString("\n\n## 能力目录\n")
	for _, desc := range capabilities {
		builder.WriteString(fmt.Sprintf("- %s: %s", desc.Name, desc.Description))
		if len(desc.RequiredParams) > 0 {
			builder.WriteString(fmt.Sprintf(" (必填参数: %s)", strings.Join(desc.RequiredParams, ", ")))
		}
		if desc.Sensitive {
			builder.WriteString(" [需要用户确认]")
		}
		builder.WriteString("\n")
	}
	return builder.String()
}
