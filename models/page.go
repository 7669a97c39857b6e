package models

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// PageStatus 页面状态
type PageStatus string

const (
	PageStatusPending PageStatus = "pending"
	PageStatusDone    PageStatus = "done"
	PageStatusError   PageStatus = "error"
)

// ErrInvalidTransition 非法状态迁移
var ErrInvalidTransition = errors.New("invalid page status transition")

// Box 归一化坐标框 [top, left, bottom, right]，取值 0-1000
type Box [4]float64

func (b Box) Top() float64    { return b[0] }
func (b Box) Left() float64   { return b[1] }
func (b Box) Bottom() float64 { return b[2] }
func (b Box) Right() float64  { return b[3] }

// TextRegion 检测到的文本区域
type TextRegion struct {
	Text string `json:"text"`
	Box  Box    `json:"box"`
}

// Page 单页状态。pending -> done | error，error 可在重试时回到 pending
type Page struct {
	Index int
	Name  string

	mu           sync.RWMutex
	source       image.Image
	translated   image.Image
	status       PageStatus
	message      string
	regions      []TextRegion
	translations []string
	overflow     int
}

// NewPage 创建待处理页面
func NewPage(index int, name string, source image.Image) *Page {
	return &Page{
		Index:  index,
		Name:   name,
		source: source,
		status: PageStatusPending,
	}
}

// Source 原始图片（只读，任何处理都不修改它）
func (p *Page) Source() image.Image {
	return p.source
}

// Status 当前状态
func (p *Page) Status() PageStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Message 诊断信息
func (p *Page) Message() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.message
}

// Translated 已完成页面的译图，未完成时为 nil
func (p *Page) Translated() image.Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.translated
}

// Result 检测区域与对应译文
func (p *Page) Result() ([]TextRegion, []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]TextRegion(nil), p.regions...), append([]string(nil), p.translations...)
}

// MarkDone pending -> done
func (p *Page) MarkDone(img image.Image, regions []TextRegion, translations []string, overflow int, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != PageStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.status, PageStatusDone)
	}
	p.status = PageStatusDone
	p.translated = img
	p.regions = regions
	p.translations = translations
	p.overflow = overflow
	p.message = message
	return nil
}

// MarkError pending -> error，原图保持不变
func (p *Page) MarkError(message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != PageStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.status, PageStatusError)
	}
	p.status = PageStatusError
	p.message = message
	return nil
}

// Retry error -> pending，其它状态不变。返回是否发生了迁移
func (p *Page) Retry() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != PageStatusError {
		return false
	}
	p.status = PageStatusPending
	p.message = ""
	return true
}

// PageView 页面状态 DTO
type PageView struct {
	Index        int          `json:"index"`
	Name         string       `json:"name"`
	Status       PageStatus   `json:"status"`
	Message      string       `json:"message,omitempty"`
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Regions      []TextRegion `json:"regions,omitempty"`
	Translations []string     `json:"translations,omitempty"`
	Overflow     int          `json:"overflow,omitempty"`
}

// View 生成 DTO 快照
func (p *Page) View() PageView {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v := PageView{
		Index:        p.Index,
		Name:         p.Name,
		Status:       p.status,
		Message:      p.message,
		Regions:      p.regions,
		Translations: p.translations,
		Overflow:     p.overflow,
	}
	if p.source != nil {
		b := p.source.Bounds()
		v.Width, v.Height = b.Dx(), b.Dy()
	}
	return v
}
