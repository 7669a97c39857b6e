package render

import (
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"
)

const (
	// LineSpacing 行间距（像素）
	LineSpacing = 4
	// glyphWidthRatio 平均字宽约为字号的 0.6 倍，用于估算每行字符数
	glyphWidthRatio = 0.6

	DefaultMaxFontSize = 100
	DefaultMinFontSize = 8
)

// Plan 排版结果
type Plan struct {
	Face       font.Face
	Size       int
	Lines      []string
	Width      float64
	Height     float64
	LineHeight float64
	Ascent     float64
	Overflow   bool // 最小字号也放不下
	Fallback   bool // 使用了内置字体
}

// Text 折行后的文本
func (p Plan) Text() string {
	return strings.Join(p.Lines, "\n")
}

// LineWidth 单行宽度
func (p Plan) LineWidth(line string) float64 {
	return fixedToFloat(font.MeasureString(p.Face, line))
}

// Fitter 为文本框选择最大可用字号
type Fitter struct {
	Fonts *FontSet
}

// NewFitter 创建排版器
func NewFitter(fonts *FontSet) *Fitter {
	if fonts == nil {
		fonts = NewFontSet()
	}
	return &Fitter{Fonts: fonts}
}

// Fit 从 maxSize 向下尝试到 minSize，返回第一个宽高都能放进框内的字号。
// 都放不下时使用 minSize 并设置 Overflow。
func (f *Fitter) Fit(text string, boxWidth, boxHeight float64, fontPath string, maxSize, minSize int) Plan {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	text = norm.NFC.String(text)

	for size := maxSize; size >= minSize; size-- {
		plan := f.layout(text, boxWidth, fontPath, size)
		if plan.Width <= boxWidth && plan.Height <= boxHeight {
			return plan
		}
	}

	plan := f.layout(text, boxWidth, fontPath, minSize)
	plan.Overflow = true
	return plan
}

func (f *Fitter) layout(text string, boxWidth float64, fontPath string, size int) Plan {
	face, fallback := f.Fonts.Face(fontPath, size)
	lines := WrapText(text, CharsPerLine(boxWidth, size))

	metrics := face.Metrics()
	ascent := fixedToFloat(metrics.Ascent)
	lineHeight := ascent + fixedToFloat(metrics.Descent)

	plan := Plan{
		Face:       face,
		Size:       size,
		Lines:      lines,
		LineHeight: lineHeight,
		Ascent:     ascent,
		Fallback:   fallback,
	}
	for _, line := range lines {
		if w := plan.LineWidth(line); w > plan.Width {
			plan.Width = w
		}
	}
	plan.Height = float64(len(lines))*lineHeight + float64(len(lines)-1)*LineSpacing
	return plan
}

// CharsPerLine 按字号估算每行字符数，至少为 1
func CharsPerLine(boxWidth float64, size int) int {
	n := int(boxWidth / (float64(size) * glyphWidthRatio))
	if n < 1 {
		return 1
	}
	return n
}

// WrapText 合并空白后按字符宽度在空白处折行，超过一行的单词按字符切开
func WrapText(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	var words []string
	for _, word := range strings.Fields(text) {
		words = append(words, splitWord(word, width)...)
	}
	return strings.Split(wordwrap.WrapString(strings.Join(words, " "), uint(width)), "\n")
}

// splitWord 把单词切成不超过 width 个字符的片段
func splitWord(word string, width int) []string {
	runes := []rune(word)
	if len(runes) <= width {
		return []string{word}
	}
	parts := make([]string, 0, (len(runes)+width-1)/width)
	for len(runes) > width {
		parts = append(parts, string(runes[:width]))
		runes = runes[width:]
	}
	return append(parts, string(runes))
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
