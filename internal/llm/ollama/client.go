package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Aura-Agent/internal/llm"
)

const (
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "llama3.1"
	defaultTimeout = 120 * time.Second
)

// Config 描述本地 Ollama 服务的连接参数。
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 调用本地 Ollama 的 /api/chat 接口。
// 本地模型加载慢、推理慢，默认超时比云端客户端宽松。
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 Ollama 客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Complete 以非流式方式调用 Ollama 生成结构化回复。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 Ollama 响应失败: %w", err)
	}

	content := strings.TrimSpace(decoded.Message.Content)
	if content == "" {
		return nil, errors.New("Ollama 响应内容为空")
	}
	return llm.ParseOutput(content), nil
}

// CompleteStream 以流式方式调用 Ollama。响应是按行分隔的 JSON，
// 每行带一段增量内容，done 为 true 时流结束。
func (c *Client) CompleteStream(ctx context.Context, req llm.Request, emit func(llm.Chunk) error) (*llm.Response, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done bool `json:"done"`
		}
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("解析 Ollama 流式事件失败: %w", err)
		}
		if event.Message.Content != "" {
			full.WriteString(event.Message.Content)
			if emit != nil {
				if err := emit(llm.Chunk{Content: event.Message.Content}); err != nil {
					return nil, err
				}
			}
		}
		if event.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取 Ollama 流式响应失败: %w", err)
	}

	content := strings.TrimSpace(full.String())
	if content == "" {
		return nil, errors.New("Ollama 流式响应内容为空")
	}
	if emit != nil {
		if err := emit(llm.Chunk{Done: true}); err != nil {
			return nil, err
		}
	}
	return llm.ParseOutput(content), nil
}

func (c *Client) post(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := make([]message, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, message{Role: llm.RoleSystem, Content: system})
	}
	for _, msg := range req.Messages {
		messages = append(messages, message{Role: msg.Role, Content: msg.Content})
	}

	body := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   stream,
		"options": map[string]any{
			"temperature": 0.2,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 Ollama 请求失败: %w", err)
	}

	endpoint := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 Ollama 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 Ollama 失败: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("Ollama 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

var _ llm.Client = (*Client)(nil)
