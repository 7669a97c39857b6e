package translator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"image"
	"image/png"
	"sync"
)

// Cache 模型响应缓存（进程内，按 sha256 键存放）
type Cache struct {
	entries map[string]string
	mutex   sync.RWMutex
}

type bypassKey struct{}

// NewCache 创建缓存
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// WithoutCache 强制重新翻译：使用返回的 ctx 的调用不读缓存，新结果仍会写入。
// 只影响这一次处理，其它会话照常命中缓存。
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	bypass, _ := ctx.Value(bypassKey{}).(bool)
	return bypass
}

// Get 获取缓存
func (c *Cache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	v, ok := c.entries[c.hashKey(key)]
	return v, ok
}

// lookup 按 ctx 决定是否读缓存
func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	if cacheBypassed(ctx) {
		return "", false
	}
	return c.Get(key)
}

// Set 设置缓存
func (c *Cache) Set(key, value string) {
	if c == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[c.hashKey(key)] = value
}

// Len 缓存条目数
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// hashKey 计算缓存键的哈希
func (c *Cache) hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// CacheKey 生成缓存键：用途 + 提示词 + 图片摘要
func CacheKey(purpose, prompt, imageDigest string) string {
	data := map[string]string{
		"purpose": purpose,
		"prompt":  prompt,
		"image":   imageDigest,
	}
	jsonData, _ := json.Marshal(data)
	return string(jsonData)
}

// ImageDigest 图片内容摘要
func ImageDigest(img image.Image) string {
	if img == nil {
		return ""
	}
	h := sha256.New()
	if err := png.Encode(h, img); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
