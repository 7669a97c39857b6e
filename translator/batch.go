package translator

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"manga-translator-web/logger"
)

// BatchTranslator 一页一次调用，批量翻译所有区域文本
type BatchTranslator struct {
	Gateway        *Gateway
	Cache          *Cache
	TargetLanguage string
	MaxAttempts    int
	InitialDelay   time.Duration
	log            *logrus.Entry
}

// NewBatchTranslator 创建批量翻译器
func NewBatchTranslator(gateway *Gateway, cache *Cache, targetLanguage string) *BatchTranslator {
	if targetLanguage == "" {
		targetLanguage = "Turkish"
	}
	return &BatchTranslator{
		Gateway:        gateway,
		Cache:          cache,
		TargetLanguage: targetLanguage,
		log:            logger.WithField("component", "batch"),
	}
}

// WithLogger 返回使用指定日志的副本
func (t *BatchTranslator) WithLogger(log *logrus.Entry) *BatchTranslator {
	cp := *t
	cp.log = log.WithField("component", "batch")
	if t.Gateway != nil {
		cp.Gateway = t.Gateway.WithLogger(log)
	}
	return &cp
}

// WithTargetLanguage 返回使用另一目标语言的副本
func (t *BatchTranslator) WithTargetLanguage(lang string) *BatchTranslator {
	if lang == "" {
		return t
	}
	cp := *t
	cp.TargetLanguage = lang
	return &cp
}

// TranslateBatch 翻译一组文本，返回与输入等长、同序的译文
func (t *BatchTranslator) TranslateBatch(ctx context.Context, client *Client, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}

	for i, text := range texts {
		if strings.Contains(text, BlockSeparator) {
			t.log.WithField("block", i).Warn("原文包含分隔符，译文可能错位")
		}
	}

	prompt := TranslationPrompt(t.TargetLanguage, strings.Join(texts, "\n"+BlockSeparator+"\n"))
	key := CacheKey("translate", prompt, "")
	if cached, ok := t.Cache.lookup(ctx, key); ok {
		t.log.Debug("命中翻译缓存")
		return SplitTranslations(cached, len(texts)), nil
	}

	resp, err := t.Gateway.Call(ctx, client, Content{Prompt: prompt}, t.MaxAttempts, t.InitialDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, NewTranslationError("translation failed", err)
	}
	if resp == nil {
		return nil, NewTranslationError("translation failed", nil)
	}

	out := SplitTranslations(resp.Text, len(texts))
	t.Cache.Set(key, resp.Text)
	t.log.WithFields(logrus.Fields{
		"blocks":   len(texts),
		"returned": len(strings.Split(strings.TrimSpace(resp.Text), BlockSeparator)),
	}).Info("批量翻译完成")
	return out, nil
}

// SplitTranslations 按分隔符切分译文并去掉空白；不足 n 段时用占位文本补齐，多余的段丢弃
func SplitTranslations(text string, n int) []string {
	blocks := strings.Split(strings.TrimSpace(text), BlockSeparator)
	out := make([]string, n)
	for i := range out {
		if i < len(blocks) {
			out[i] = strings.TrimSpace(blocks[i])
		} else {
			out[i] = PlaceholderTranslation
		}
	}
	return out
}
