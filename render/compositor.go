package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/sirupsen/logrus"

	"manga-translator-web/logger"
	"manga-translator-web/models"
)

const (
	// CoordinateScale 检测框坐标的归一化范围
	CoordinateScale = 1000
	// MaskAlpha 白色遮罩透明度
	MaskAlpha = 180
)

// PlaceholderText 没有对应译文时绘制的文本
var PlaceholderText = "translation error"

// Rect 像素坐标矩形
type Rect struct {
	Left, Top, Right, Bottom float64
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Denormalize 把 0-1000 坐标线性映射到页面像素坐标，越界值先截断到 [0,1000]
func Denormalize(box models.Box, width, height int) Rect {
	top, left := clampCoord(box.Top()), clampCoord(box.Left())
	bottom, right := clampCoord(box.Bottom()), clampCoord(box.Right())
	if top > bottom {
		top, bottom = bottom, top
	}
	if left > right {
		left, right = right, left
	}
	w, h := float64(width), float64(height)
	return Rect{
		Left:   left * w / CoordinateScale,
		Top:    top * h / CoordinateScale,
		Right:  right * w / CoordinateScale,
		Bottom: bottom * h / CoordinateScale,
	}
}

func clampCoord(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(CoordinateScale, v))
}

// Compositor 在页面副本上遮盖原文并绘制译文
type Compositor struct {
	Fitter      *Fitter
	FontPath    string
	MaxFontSize int
	MinFontSize int

	mutex sync.Mutex // Face 不能并发使用
	log   *logrus.Entry
}

// NewCompositor 创建合成器
func NewCompositor(fitter *Fitter, fontPath string, maxSize, minSize int) *Compositor {
	if fitter == nil {
		fitter = NewFitter(nil)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFontSize
	}
	if minSize <= 0 {
		minSize = DefaultMinFontSize
	}
	return &Compositor{
		Fitter:      fitter,
		FontPath:    fontPath,
		MaxFontSize: maxSize,
		MinFontSize: minSize,
		log:         logger.WithField("component", "compositor"),
	}
}

// Render 按检测顺序处理每个区域，返回新的不透明 RGB 图片和每个区域的排版结果。
// page 本身不会被修改。
func (c *Compositor) Render(page image.Image, regions []models.TextRegion, translations []string, log *logrus.Entry) (*image.RGBA, []Plan) {
	if log == nil {
		log = c.log
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	dc := gg.NewContextForRGBA(opaqueCopy(page))
	w, h := dc.Width(), dc.Height()

	plans := make([]Plan, len(regions))
	for i, region := range regions {
		rect := Denormalize(region.Box, w, h)
		if rect.Width() <= 0 || rect.Height() <= 0 {
			log.WithFields(logrus.Fields{"region": i, "box": region.Box}).Warn("检测框面积为 0，跳过")
			continue
		}

		text := PlaceholderText
		if i < len(translations) {
			text = translations[i]
		}

		dc.SetRGBA255(255, 255, 255, MaskAlpha)
		dc.DrawRectangle(rect.Left, rect.Top, rect.Width(), rect.Height())
		dc.Fill()

		plan := c.Fitter.Fit(text, rect.Width(), rect.Height(), c.FontPath, c.MaxFontSize, c.MinFontSize)
		if plan.Overflow {
			log.WithFields(logrus.Fields{
				"region": i,
				"size":   plan.Size,
				"box_w":  int(rect.Width()),
				"box_h":  int(rect.Height()),
			}).Warn("box too small: 最小字号仍然放不下译文")
		}
		drawPlan(dc, plan, rect)
		plans[i] = plan
	}

	return dc.Image().(*image.RGBA), plans
}

// drawPlan 黑色文字，整体在框内水平垂直居中，每行居中对齐
func drawPlan(dc *gg.Context, plan Plan, rect Rect) {
	dc.SetFontFace(plan.Face)
	dc.SetRGB(0, 0, 0)

	y := rect.Top + (rect.Height()-plan.Height)/2
	for _, line := range plan.Lines {
		x := rect.Left + (rect.Width()-plan.LineWidth(line))/2
		dc.DrawString(line, x, y+plan.Ascent)
		y += plan.LineHeight + LineSpacing
	}
}

// Banner 失败页面预览：原图副本底部叠加半透明红色横条和诊断信息
func (c *Compositor) Banner(page image.Image, message string) *image.RGBA {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dc := gg.NewContextForRGBA(opaqueCopy(page))
	w, h := float64(dc.Width()), float64(dc.Height())

	barHeight := math.Min(60, h/3)
	dc.SetRGBA255(255, 0, 0, 51)
	dc.DrawRectangle(0, h-barHeight, w, barHeight)
	dc.Fill()

	face, _ := c.Fitter.Fonts.Face("", 18)
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	dc.DrawStringWrapped("Error: "+message, w/2, h-barHeight/2, 0.5, 0.5, w-16, 1.2, gg.AlignCenter)

	return dc.Image().(*image.RGBA)
}

// opaqueCopy 复制到白底 RGBA，去掉透明通道
func opaqueCopy(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
