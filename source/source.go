// Package source 把上传的文件解码为按阅读顺序排列的页面图片
package source

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"manga-translator-web/models"
)

// ErrUnsupportedFormat 不支持的文件格式
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Kind 输入文件类型
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindZip   Kind = "zip"
	KindRar   Kind = "rar"
	KindImage Kind = "image"
)

// maxEntrySize 单个归档条目的大小上限
const maxEntrySize = 256 << 20

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

var containerKinds = map[string]Kind{
	".pdf": KindPDF,
	".zip": KindZip,
	".cbz": KindZip,
	".rar": KindRar,
	".cbr": KindRar,
}

// Page 解码后的一页
type Page struct {
	Name  string
	Image image.Image
}

// Extraction 解码结果。Skipped 列出无法解码或缺失的页面，不会静默丢页
type Extraction struct {
	Kind    Kind
	Pages   []Page
	Skipped []models.SkippedPage
}

func (e *Extraction) skip(name, reason string) {
	e.Skipped = append(e.Skipped, models.SkippedPage{Name: name, Reason: reason})
}

// SupportedExtensions 支持的扩展名
func SupportedExtensions() []string {
	return []string{".pdf", ".zip", ".cbz", ".rar", ".cbr", ".jpg", ".jpeg", ".png", ".webp"}
}

// KindOf 按扩展名判断文件类型
func KindOf(filename string) (Kind, error) {
	ext := strings.ToLower(path.Ext(filename))
	if k, ok := containerKinds[ext]; ok {
		return k, nil
	}
	if imageExtensions[ext] {
		return KindImage, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// Extract 解码上传文件。容器无法读取时返回错误；单个页面失败记入 Skipped
func Extract(filename string, data []byte) (*Extraction, error) {
	kind, err := KindOf(filename)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindPDF:
		return extractPDF(data)
	case KindZip:
		return extractZip(data)
	case KindRar:
		return extractRar(data)
	default:
		ex := &Extraction{Kind: KindImage}
		img, err := decodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("解码图片失败: %w", err)
		}
		ex.Pages = append(ex.Pages, Page{Name: path.Base(filename), Image: img})
		return ex, nil
	}
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("empty image")
	}
	return img, nil
}

// isPageEntry 归档条目是否为页面图片
func isPageEntry(name string) bool {
	clean := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(clean, "__MACOSX/") || strings.HasPrefix(path.Base(clean), ".") {
		return false
	}
	return imageExtensions[strings.ToLower(path.Ext(clean))]
}
