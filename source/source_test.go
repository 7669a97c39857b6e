package source

import (
	"archive/zip"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, files map[string][]byte, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(files[name])
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractZipOrderAndSkips(t *testing.T) {
	files := map[string][]byte{
		"vol1/page10.png":           encodePNG(t, 10, 20),
		"vol1/page2.png":            encodePNG(t, 20, 20),
		"vol1/page1.JPG":            encodeJPEG(t, 30, 20),
		"vol1/notes.txt":            []byte("not a page"),
		"__MACOSX/vol1/._page1.png": []byte("resource fork"),
		"vol1/page3.png":            []byte("broken"),
	}
	order := []string{"vol1/page10.png", "vol1/notes.txt", "vol1/page2.png", "__MACOSX/vol1/._page1.png", "vol1/page3.png", "vol1/page1.JPG"}

	ex, err := Extract("Book.CBZ", buildZip(t, files, order))
	if err != nil {
		t.Fatalf("Extract 失败: %v", err)
	}
	if ex.Kind != KindZip {
		t.Fatalf("Kind = %s", ex.Kind)
	}

	var names []string
	for _, p := range ex.Pages {
		names = append(names, p.Name)
	}
	want := []string{"page1.JPG", "page2.png", "page10.png"}
	if len(names) != len(want) {
		t.Fatalf("页面 = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("页面顺序 = %v, want %v", names, want)
		}
	}
	if ex.Pages[0].Image.Bounds().Dx() != 30 {
		t.Errorf("page1 尺寸错误: %v", ex.Pages[0].Image.Bounds())
	}

	if len(ex.Skipped) != 1 || ex.Skipped[0].Name != "vol1/page3.png" {
		t.Fatalf("损坏的页面应记入 Skipped: %+v", ex.Skipped)
	}
}

func TestExtractSingleImage(t *testing.T) {
	ex, err := Extract("cover.png", encodePNG(t, 12, 34))
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Pages) != 1 || ex.Pages[0].Name != "cover.png" || ex.Pages[0].Image.Bounds().Dy() != 34 {
		t.Fatalf("单图解码错误: %+v", ex.Pages)
	}

	if _, err := Extract("cover.jpg", []byte("nope")); err == nil {
		t.Fatalf("无法解码的单图应返回错误")
	}
}

func TestExtractErrors(t *testing.T) {
	if _, err := Extract("book.epub", []byte("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("期望 ErrUnsupportedFormat, 得到 %v", err)
	}
	if _, err := Extract("book.zip", []byte("not a zip")); err == nil {
		t.Fatalf("损坏的 ZIP 应返回错误")
	}
	if _, err := Extract("book.cbr", []byte("not a rar")); err == nil {
		t.Fatalf("损坏的 RAR 应返回错误")
	}
}

func TestExtractPDF(t *testing.T) {
	doc := gofpdf.New("P", "pt", "A4", "")
	opts := gofpdf.ImageOptions{ImageType: "JPG"}
	doc.RegisterImageOptionsReader("scan", opts, bytes.NewReader(encodeJPEG(t, 40, 60)))
	doc.AddPage()
	doc.ImageOptions("scan", 0, 0, 400, 600, false, opts, 0, "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Cell(100, 20, "text only")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatal(err)
	}

	ex, err := Extract("scan.pdf", buf.Bytes())
	if err != nil {
		t.Fatalf("Extract 失败: %v", err)
	}
	if len(ex.Pages) != 1 || ex.Pages[0].Image.Bounds().Dx() != 40 {
		t.Fatalf("应提取第 1 页的图片: %+v", ex.Pages)
	}
	if len(ex.Skipped) != 1 || ex.Skipped[0].Name != "page-002" {
		t.Fatalf("纯文本页面应记入 Skipped: %+v", ex.Skipped)
	}
}

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"page2.png", "page10.png", true},
		{"page10.png", "page2.png", false},
		{"ch1/p9.jpg", "ch2/p1.jpg", true},
		{"001.png", "002.png", true},
		{"a.png", "B.png", true},
		{"p1", "p1a", true},
	}
	for _, tt := range tests {
		if got := naturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("naturalLess(%q, %q) = %v", tt.a, tt.b, got)
		}
	}
}
