package translator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"manga-translator-web/logger"
)

// ProviderType AI 提供商类型
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
)

// Content 一次模型调用的输入：提示词，可选附带一张页面图片
type Content struct {
	Prompt string
	Image  image.Image
}

// Response 模型返回的文本
type Response struct {
	Text     string
	Provider string
	Model    string
}

// Provider 视觉模型提供商接口
type Provider interface {
	Generate(ctx context.Context, content Content) (*Response, error)
	GetName() string
}

// ProviderFactory 按单个凭证构建 Provider
type ProviderFactory func(apiKey string) (Provider, error)

// ProviderConfig 提供商配置
type ProviderConfig struct {
	Type        ProviderType  `json:"type"`
	APIURL      string        `json:"apiUrl"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"maxTokens"`
	Timeout     time.Duration `json:"timeout"`
}

// BaseProvider 基础提供商实现
type BaseProvider struct {
	Config     ProviderConfig
	APIKey     string
	HTTPClient *http.Client
}

// NewProvider 创建提供商实例
func NewProvider(config ProviderConfig, apiKey string) (Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, NewConfigurationError("empty api key", nil)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	base := &BaseProvider{
		Config: config,
		APIKey: apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}

	switch config.Type {
	case ProviderGemini, "":
		if base.Config.APIURL == "" {
			base.Config.APIURL = "https://generativelanguage.googleapis.com/v1beta"
		}
		if base.Config.Model == "" {
			base.Config.Model = "gemini-1.5-pro-latest"
		}
		return &GeminiProvider{BaseProvider: base}, nil
	case ProviderOpenAI:
		if base.Config.APIURL == "" {
			base.Config.APIURL = "https://api.openai.com/v1"
		}
		if base.Config.Model == "" {
			base.Config.Model = "gpt-4o"
		}
		return &OpenAIProvider{BaseProvider: base}, nil
	default:
		return nil, NewConfigurationError(fmt.Sprintf("不支持的提供商类型: %s", config.Type), nil)
	}
}

// NewProviderFactory 绑定配置，返回按凭证创建 Provider 的工厂
func NewProviderFactory(config ProviderConfig) ProviderFactory {
	return func(apiKey string) (Provider, error) {
		return NewProvider(config, apiKey)
	}
}

// doRequest 执行 HTTP 请求；非 200 返回 *APIError
func (b *BaseProvider) doRequest(ctx context.Context, req *http.Request) ([]byte, error) {
	reqID := uuid.NewString()
	start := time.Now()
	log := logger.WithFields(logrus.Fields{
		"req_id":   reqID,
		"provider": string(b.Config.Type),
		"model":    b.Config.Model,
	})

	resp, err := b.HTTPClient.Do(req.WithContext(ctx))
	if err != nil {
		log.WithError(err).Debug("API 请求失败")
		return nil, fmt.Errorf("API 请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status":     resp.StatusCode,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("API 请求完成")

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Provider:   string(b.Config.Type),
			StatusCode: resp.StatusCode,
			Status:     errorStatus(body),
			Body:       string(body),
		}
	}

	return body, nil
}

// errorStatus 读取 {"error":{"status":"..."}} 形式的错误状态
func errorStatus(body []byte) string {
	var payload struct {
		Error struct {
			Status string `json:"status"`
			Type   string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error.Status != "" {
		return payload.Error.Status
	}
	return payload.Error.Type
}

// encodePNG 把图片编码为 base64 PNG
func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("编码页面图片失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// newJSONRequest 构建 POST JSON 请求
func newJSONRequest(url string, payload interface{}) (*http.Request, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
