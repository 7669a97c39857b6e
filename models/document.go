package models

import (
	"sync"
	"time"
)

// SkippedPage 图片源中无法解码或缺失的页面
type SkippedPage struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Document 一次上传对应的文档：有序页面列表
type Document struct {
	ID             string
	Name           string
	TargetLanguage string
	CreatedAt      time.Time
	Pages          []*Page
	Skipped        []SkippedPage

	mu          sync.Mutex
	running     bool
	completedAt time.Time
}

// NewDocument 创建文档
func NewDocument(id, name, targetLanguage string, pages []*Page, skipped []SkippedPage) *Document {
	return &Document{
		ID:             id,
		Name:           name,
		TargetLanguage: targetLanguage,
		CreatedAt:      time.Now(),
		Pages:          pages,
		Skipped:        skipped,
	}
}

// TryStart 标记文档开始处理；已经在处理中时返回 false
func (d *Document) TryStart() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return false
	}
	d.running = true
	return true
}

// Finish 标记处理结束
func (d *Document) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.completedAt = time.Now()
}

// Running 是否正在处理
func (d *Document) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Counts 统计 done / error / 总页数
func (d *Document) Counts() (done, failed, total int) {
	for _, p := range d.Pages {
		switch p.Status() {
		case PageStatusDone:
			done++
		case PageStatusError:
			failed++
		}
	}
	return done, failed, len(d.Pages)
}

// DonePages 按页序返回已完成页面
func (d *Document) DonePages() []*Page {
	var pages []*Page
	for _, p := range d.Pages {
		if p.Status() == PageStatusDone && p.Translated() != nil {
			pages = append(pages, p)
		}
	}
	return pages
}

// Page 按索引取页面
func (d *Document) Page(index int) (*Page, bool) {
	if index < 0 || index >= len(d.Pages) {
		return nil, false
	}
	return d.Pages[index], true
}

// DocumentView 文档状态 DTO
type DocumentView struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	TargetLanguage string        `json:"targetLanguage"`
	Running        bool          `json:"running"`
	Done           int           `json:"done"`
	Failed         int           `json:"failed"`
	Total          int           `json:"total"`
	CreatedAt      time.Time     `json:"createdAt"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	Skipped        []SkippedPage `json:"skipped,omitempty"`
	Pages          []PageView    `json:"pages,omitempty"`
}

// View 生成 DTO；withPages 为 false 时只返回汇总
func (d *Document) View(withPages bool) DocumentView {
	done, failed, total := d.Counts()

	d.mu.Lock()
	v := DocumentView{
		ID:             d.ID,
		Name:           d.Name,
		TargetLanguage: d.TargetLanguage,
		Running:        d.running,
		Done:           done,
		Failed:         failed,
		Total:          total,
		CreatedAt:      d.CreatedAt,
		Skipped:        d.Skipped,
	}
	if !d.completedAt.IsZero() {
		t := d.completedAt
		v.CompletedAt = &t
	}
	d.mu.Unlock()

	if withPages {
		v.Pages = make([]PageView, 0, len(d.Pages))
		for _, p := range d.Pages {
			v.Pages = append(v.Pages, p.View())
		}
	}
	return v
}
