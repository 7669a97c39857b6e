package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"manga-translator-web/logger"
	"manga-translator-web/models"
)

const (
	// ReasonEmptyResponse 检测响应为空时的诊断信息
	ReasonEmptyResponse = "empty response"
	// ReasonCallFailed 网关返回错误（非限流错误或重试耗尽）
	ReasonCallFailed = "model call failed"
)

var (
	codeFencePattern    = regexp.MustCompile("(?m)^```json\\s*|^```\\s*|\\s*```$")
	trailingCommaFixer  = regexp.MustCompile(`,\s*([}\]])`)
	regionListSchemaURL = "regions.json"
)

// 区域列表：对象数组，box 恰好 4 个数字，text 可选
const regionListSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["box"],
    "properties": {
      "text": {"type": ["string", "null"]},
      "box": {
        "type": "array",
        "items": {"type": "number"},
        "minItems": 4,
        "maxItems": 4
      }
    }
  }
}`

var regionSchema = jsonschema.MustCompileString(regionListSchemaURL, regionListSchema)

// Detector 调用视觉模型检测页面中的文本区域
type Detector struct {
	Gateway      *Gateway
	Cache        *Cache
	MaxAttempts  int
	InitialDelay time.Duration
	log          *logrus.Entry
}

// NewDetector 创建检测器，cache 可以为 nil
func NewDetector(gateway *Gateway, cache *Cache) *Detector {
	return &Detector{
		Gateway: gateway,
		Cache:   cache,
		log:     logger.WithField("component", "detector"),
	}
}

// WithLogger 返回使用指定日志的副本
func (d *Detector) WithLogger(log *logrus.Entry) *Detector {
	cp := *d
	cp.log = log.WithField("component", "detector")
	if d.Gateway != nil {
		cp.Gateway = d.Gateway.WithLogger(log)
	}
	return &cp
}

// Detect 发送检测提示词和页面图片，返回按检测顺序排列的区域
func (d *Detector) Detect(ctx context.Context, client *Client, page image.Image) ([]models.TextRegion, error) {
	prompt := DetectionPrompt()
	key := CacheKey("detect", prompt, ImageDigest(page))
	if raw, ok := d.Cache.lookup(ctx, key); ok {
		d.log.Debug("命中检测缓存")
		return DecodeRegions(raw)
	}

	resp, err := d.Gateway.Call(ctx, client, Content{Prompt: prompt, Image: page}, d.MaxAttempts, d.InitialDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &DetectionError{Reason: ReasonCallFailed, Cause: err}
	}

	raw := ""
	if resp != nil {
		raw = resp.Text
	}
	regions, err := DecodeRegions(raw)
	if err != nil {
		d.log.WithField("raw", raw).WithError(err).Warn("检测响应解析失败")
		return nil, err
	}

	d.Cache.Set(key, raw)
	d.log.WithField("regions", len(regions)).Info("区域检测完成")
	return regions, nil
}

// StripCodeFences 去掉 Markdown 代码围栏
func StripCodeFences(raw string) string {
	return strings.TrimSpace(codeFencePattern.ReplaceAllString(strings.TrimSpace(raw), ""))
}

// RepairJSON 删除 } 或 ] 之前多余的逗号
func RepairJSON(s string) string {
	return trailingCommaFixer.ReplaceAllString(s, "$1")
}

// DecodeRegions 修复并解析检测响应：去围栏 -> 判空 -> 修复逗号 -> 解析 -> schema 校验 -> 类型化
func DecodeRegions(raw string) ([]models.TextRegion, error) {
	text := StripCodeFences(raw)
	if text == "" {
		return nil, &DetectionError{Reason: ReasonEmptyResponse, Raw: raw}
	}

	cleaned := RepairJSON(text)

	var v interface{}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, &DetectionError{Reason: fmt.Sprintf("parse error: %v", err), Raw: cleaned, Cause: err}
	}
	if err := regionSchema.Validate(v); err != nil {
		return nil, &DetectionError{Reason: fmt.Sprintf("parse error: %v", err), Raw: cleaned, Cause: err}
	}

	var items []struct {
		Text *string   `json:"text"`
		Box  []float64 `json:"box"`
	}
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, &DetectionError{Reason: fmt.Sprintf("parse error: %v", err), Raw: cleaned, Cause: err}
	}

	regions := make([]models.TextRegion, 0, len(items))
	for _, item := range items {
		var r models.TextRegion
		if item.Text != nil {
			r.Text = *item.Text
		}
		copy(r.Box[:], item.Box)
		regions = append(regions, r)
	}
	return regions, nil
}
