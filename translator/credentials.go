package translator

import (
	"strings"
	"sync"
)

// CredentialPool 有序的 API 凭证池，持有进程内共享的轮换游标
type CredentialPool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewCredentialPool 创建凭证池，空白凭证会被忽略
func NewCredentialPool(keys []string) (*CredentialPool, error) {
	var cleaned []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, NewConfigurationError("credential pool is empty", nil)
	}
	return &CredentialPool{keys: cleaned}, nil
}

// Size 凭证数量
func (p *CredentialPool) Size() int {
	return len(p.keys)
}

// Key 按索引取凭证
func (p *CredentialPool) Key(index int) (string, bool) {
	if index < 0 || index >= len(p.keys) {
		return "", false
	}
	return p.keys[index], true
}

// Current 当前游标及其凭证
func (p *CredentialPool) Current() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor, p.keys[p.cursor]
}

// Rotate 无条件前进一位（取模），返回新游标
func (p *CredentialPool) Rotate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = (p.cursor + 1) % len(p.keys)
	return p.cursor
}

// RotateFrom 只有当游标仍等于 observed 时才前进；
// 否则说明别的调用方已经轮换过，直接返回当前游标
func (p *CredentialPool) RotateFrom(observed int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor == observed {
		p.cursor = (p.cursor + 1) % len(p.keys)
	}
	return p.cursor
}
