package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAIProvider OpenAI 兼容的视觉接口（chat/completions + image_url）
type OpenAIProvider struct {
	*BaseProvider
}

func (p *OpenAIProvider) GetName() string {
	return string(ProviderOpenAI)
}

func (p *OpenAIProvider) Generate(ctx context.Context, content Content) (*Response, error) {
	var messageContent interface{} = content.Prompt
	if content.Image != nil {
		data, err := encodePNG(content.Image)
		if err != nil {
			return nil, err
		}
		messageContent = []map[string]interface{}{
			{"type": "text", "text": content.Prompt},
			{"type": "image_url", "image_url": map[string]string{
				"url": "data:image/png;base64," + data,
			}},
		}
	}

	reqBody := map[string]interface{}{
		"model": p.Config.Model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": messageContent},
		},
		"temperature": p.Config.Temperature,
	}
	if p.Config.MaxTokens > 0 {
		reqBody["max_tokens"] = p.Config.MaxTokens
	}

	req, err := newJSONRequest(strings.TrimRight(p.Config.APIURL, "/")+"/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	body, err := p.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	out := &Response{Provider: p.GetName(), Model: p.Config.Model}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}
