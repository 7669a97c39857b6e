package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// GeminiProvider Google Gemini generateContent 接口
type GeminiProvider struct {
	*BaseProvider
}

func (p *GeminiProvider) GetName() string {
	return string(ProviderGemini)
}

func (p *GeminiProvider) Generate(ctx context.Context, content Content) (*Response, error) {
	parts := []map[string]interface{}{
		{"text": content.Prompt},
	}
	if content.Image != nil {
		data, err := encodePNG(content.Image)
		if err != nil {
			return nil, err
		}
		parts = append(parts, map[string]interface{}{
			"inline_data": map[string]string{
				"mime_type": "image/png",
				"data":      data,
			},
		})
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": parts},
		},
		"generationConfig": map[string]interface{}{
			"temperature": p.Config.Temperature,
		},
	}
	if p.Config.MaxTokens > 0 {
		reqBody["generationConfig"].(map[string]interface{})["maxOutputTokens"] = p.Config.MaxTokens
	}

	// {base}/models/{model}:generateContent?key={apiKey}
	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(p.Config.APIURL, "/"), p.Config.Model, url.QueryEscape(p.APIKey))

	req, err := newJSONRequest(apiURL, reqBody)
	if err != nil {
		return nil, err
	}

	body, err := p.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("API 错误: %s", resp.Error.Message)
	}

	if len(resp.Candidates) == 0 {
		return &Response{Provider: p.GetName(), Model: p.Config.Model}, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return &Response{Text: text.String(), Provider: p.GetName(), Model: p.Config.Model}, nil
}
