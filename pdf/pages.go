// Package pdf 导出译后文档：页面图片合成 PDF，以及原文/译文对照稿
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// ErrNoPages 没有可导出的页面
var ErrNoPages = errors.New("no pages to export")

// pageQuality 页面图片的 JPEG 质量
const pageQuality = 92

// AssemblePages 按给定顺序把页面图片写成一个 PDF，每页尺寸与图片像素一致（1px = 1pt）
func AssemblePages(title string, pages []image.Image, w io.Writer) error {
	if len(pages) == 0 {
		return ErrNoPages
	}

	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetTitle(title, true)
	doc.SetCreator("manga-translator-web", true)
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)

	opts := gofpdf.ImageOptions{ImageType: "JPG"}
	for i, img := range pages {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: pageQuality}); err != nil {
			return fmt.Errorf("编码第 %d 页失败: %w", i+1, err)
		}

		name := fmt.Sprintf("page-%d", i)
		doc.RegisterImageOptionsReader(name, opts, &buf)

		b := img.Bounds()
		wd, ht := float64(b.Dx()), float64(b.Dy())
		doc.AddPageFormat("P", gofpdf.SizeType{Wd: wd, Ht: ht})
		doc.ImageOptions(name, 0, 0, wd, ht, false, opts, 0, "")

		if doc.Err() {
			return fmt.Errorf("写入第 %d 页失败: %w", i+1, doc.Error())
		}
	}

	if err := doc.Output(w); err != nil {
		return fmt.Errorf("输出 PDF 失败: %w", err)
	}
	return nil
}
