package source

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDF 每页取面积最大的内嵌图片作为页面（扫描版漫画每页一张图）。
// 没有可解码图片的页面记入 Skipped。
func extractPDF(data []byte) (*Extraction, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := countPDFPages(data)
	if err != nil {
		// ledongthuc/pdf 读不了的文件交给 pdfcpu 再试一次
		pageCount, err = api.PageCount(bytes.NewReader(data), conf)
		if err != nil {
			return nil, fmt.Errorf("读取 PDF 失败: %w", err)
		}
	}

	best := make(map[int]image.Image)
	failures := make(map[int]string)
	digest := func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
		raw, err := io.ReadAll(img.Reader)
		if err != nil {
			failures[img.PageNr] = err.Error()
			return nil
		}
		decoded, err := decodeImage(raw)
		if err != nil {
			failures[img.PageNr] = fmt.Sprintf("decode %s image %s: %v", img.FileType, img.Name, err)
			return nil
		}
		if cur, ok := best[img.PageNr]; !ok || area(decoded) > area(cur) {
			best[img.PageNr] = decoded
		}
		return nil
	}

	if err := api.ExtractImages(bytes.NewReader(data), nil, digest, conf); err != nil {
		return nil, fmt.Errorf("提取 PDF 图片失败: %w", err)
	}

	for nr := range best {
		if nr > pageCount {
			pageCount = nr
		}
	}

	ex := &Extraction{Kind: KindPDF}
	for nr := 1; nr <= pageCount; nr++ {
		name := fmt.Sprintf("page-%03d", nr)
		img, ok := best[nr]
		if !ok {
			reason := "no raster image on page"
			if f, failed := failures[nr]; failed {
				reason = f
			}
			ex.skip(name, reason)
			continue
		}
		ex.Pages = append(ex.Pages, Page{Name: name, Image: img})
	}
	return ex, nil
}

func countPDFPages(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}
