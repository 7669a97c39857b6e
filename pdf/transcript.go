package pdf

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang/freetype/truetype"
	"github.com/signintech/gopdf"
	"golang.org/x/image/font/gofont/goregular"

	"manga-translator-web/models"
)

const transcriptFamily = "transcript"

// TranscriptConfig 对照稿排版配置（单位 pt）
type TranscriptConfig struct {
	PageSize    *gopdf.Rect
	FontPath    string // 可选的 TTF 字体，缺失或无法解析时使用内置字体
	TitleSize   float64
	HeadingSize float64
	BodySize    float64
	LineHeight  float64
	Margins     Margins
}

// Margins 页边距
type Margins struct {
	Top    float64
	Right  float64
	Bottom float64
	Left   float64
}

// DefaultTranscriptConfig 默认配置
func DefaultTranscriptConfig() TranscriptConfig {
	return TranscriptConfig{
		PageSize:    gopdf.PageSizeA4,
		TitleSize:   18,
		HeadingSize: 13,
		BodySize:    10,
		LineHeight:  14,
		Margins:     Margins{Top: 48, Right: 48, Bottom: 48, Left: 48},
	}
}

// transcriptBuilder 逐行写入的 gopdf 封装，自动换页
type transcriptBuilder struct {
	pdf  *gopdf.GoPdf
	cfg  TranscriptConfig
	font *truetype.Font
	y    float64
}

// loadTranscriptFont 读取配置的字体，失败时回退到 goregular
func loadTranscriptFont(path string) ([]byte, *truetype.Font) {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if f, err := truetype.Parse(data); err == nil {
				return data, f
			}
		}
	}
	f, _ := truetype.Parse(goregular.TTF)
	return goregular.TTF, f
}

func newTranscriptBuilder(cfg TranscriptConfig) (*transcriptBuilder, error) {
	if cfg.PageSize == nil {
		cfg.PageSize = gopdf.PageSizeA4
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *cfg.PageSize})

	data, font := loadTranscriptFont(cfg.FontPath)
	if err := pdf.AddTTFFontData(transcriptFamily, data); err != nil {
		return nil, fmt.Errorf("加载字体失败: %w", err)
	}

	b := &transcriptBuilder{pdf: pdf, cfg: cfg, font: font}
	b.newPage()
	return b, nil
}

func (b *transcriptBuilder) newPage() {
	b.pdf.AddPage()
	b.y = b.cfg.Margins.Top
}

func (b *transcriptBuilder) width() float64 {
	return b.cfg.PageSize.W - b.cfg.Margins.Left - b.cfg.Margins.Right
}

// printable 把字体里没有的字符替换成 '?'
func (b *transcriptBuilder) printable(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if r < ' ' {
			return -1
		}
		if b.font != nil && b.font.Index(r) == 0 {
			return '?'
		}
		return r
	}, text)
}

// write 以给定字号和缩进写入一段文本，按宽度折行
func (b *transcriptBuilder) write(text string, size, indent float64) error {
	if err := b.pdf.SetFont(transcriptFamily, "", size); err != nil {
		return err
	}
	lineHeight := b.cfg.LineHeight * size / b.cfg.BodySize

	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(b.printable(para))
		if para == "" {
			continue
		}
		lines, err := b.pdf.SplitText(para, b.width()-indent)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if b.y+lineHeight > b.cfg.PageSize.H-b.cfg.Margins.Bottom {
				b.newPage()
			}
			b.pdf.SetXY(b.cfg.Margins.Left+indent, b.y)
			if err := b.pdf.Cell(&gopdf.Rect{W: b.width() - indent, H: lineHeight}, line); err != nil {
				return err
			}
			b.y += lineHeight
		}
	}
	return nil
}

func (b *transcriptBuilder) gap(h float64) {
	b.y += h
}

// Transcript 为已完成的页面输出原文/译文对照稿，附带失败与跳过的页面清单
func Transcript(doc *models.Document, w io.Writer) error {
	return TranscriptWithConfig(doc, DefaultTranscriptConfig(), w)
}

// TranscriptWithConfig 同 Transcript，可指定排版配置
func TranscriptWithConfig(doc *models.Document, cfg TranscriptConfig, w io.Writer) error {
	done := doc.DonePages()
	if len(done) == 0 {
		return ErrNoPages
	}

	b, err := newTranscriptBuilder(cfg)
	if err != nil {
		return err
	}
	b.pdf.SetInfo(gopdf.PdfInfo{
		Title:        doc.Name,
		Creator:      "manga-translator-web",
		CreationDate: time.Now(),
	})

	if err := b.write(doc.Name, cfg.TitleSize, 0); err != nil {
		return err
	}
	doneCount, failed, total := doc.Counts()
	summary := fmt.Sprintf("Target language: %s | %d/%d pages translated, %d failed", doc.TargetLanguage, doneCount, total, failed)
	if err := b.write(summary, cfg.BodySize, 0); err != nil {
		return err
	}
	b.gap(cfg.LineHeight)

	for _, page := range done {
		regions, translations := page.Result()
		if err := b.write(fmt.Sprintf("Page %d  %s", page.Index+1, page.Name), cfg.HeadingSize, 0); err != nil {
			return err
		}
		if len(regions) == 0 {
			if err := b.write("(no text detected)", cfg.BodySize, 12); err != nil {
				return err
			}
		}
		for i, region := range regions {
			translation := ""
			if i < len(translations) {
				translation = translations[i]
			}
			if err := b.write(fmt.Sprintf("%d. %s", i+1, region.Text), cfg.BodySize, 12); err != nil {
				return err
			}
			if err := b.write("→ "+translation, cfg.BodySize, 24); err != nil {
				return err
			}
		}
		b.gap(cfg.LineHeight / 2)
	}

	var notes []string
	for _, page := range doc.Pages {
		if page.Status() == models.PageStatusError {
			notes = append(notes, fmt.Sprintf("Page %d  %s: %s", page.Index+1, page.Name, page.Message()))
		}
	}
	for _, s := range doc.Skipped {
		notes = append(notes, fmt.Sprintf("Skipped %s: %s", s.Name, s.Reason))
	}
	if len(notes) > 0 {
		b.gap(cfg.LineHeight)
		if err := b.write("Not translated", cfg.HeadingSize, 0); err != nil {
			return err
		}
		for _, n := range notes {
			if err := b.write(n, cfg.BodySize, 12); err != nil {
				return err
			}
		}
	}

	if _, err := b.pdf.WriteTo(w); err != nil {
		return fmt.Errorf("输出对照稿失败: %w", err)
	}
	return nil
}
