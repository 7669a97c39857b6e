package pdf

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	lpdf "github.com/ledongthuc/pdf"

	"manga-translator-web/models"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pageCount(t *testing.T, data []byte) int {
	t.Helper()
	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("读取生成的 PDF 失败: %v", err)
	}
	return r.NumPage()
}

func TestAssemblePages(t *testing.T) {
	pages := []image.Image{
		solid(120, 180, color.White),
		solid(200, 100, color.Black),
	}

	var buf bytes.Buffer
	if err := AssemblePages("Book", pages, &buf); err != nil {
		t.Fatalf("AssemblePages 失败: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("输出不是 PDF")
	}
	if n := pageCount(t, buf.Bytes()); n != 2 {
		t.Fatalf("页数 = %d, want 2", n)
	}
}

func TestAssemblePagesEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := AssemblePages("Book", nil, &buf); !errors.Is(err, ErrNoPages) {
		t.Fatalf("期望 ErrNoPages, 得到 %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("空导出不应写入任何内容")
	}
}

func TestTranscript(t *testing.T) {
	done := models.NewPage(0, "p1.png", solid(10, 10, color.White))
	regions := []models.TextRegion{{Text: "こんにちは", Box: models.Box{0, 0, 500, 500}}, {Text: "WORLD", Box: models.Box{500, 500, 1000, 1000}}}
	if err := done.MarkDone(solid(10, 10, color.White), regions, []string{"MERHABA", "DÜNYA"}, 0, ""); err != nil {
		t.Fatal(err)
	}
	failed := models.NewPage(1, "p2.png", solid(10, 10, color.White))
	if err := failed.MarkError("empty response"); err != nil {
		t.Fatal(err)
	}
	doc := models.NewDocument("id", "Book", "Turkish", []*models.Page{done, failed},
		[]models.SkippedPage{{Name: "p3.png", Reason: "decode"}})

	var buf bytes.Buffer
	if err := Transcript(doc, &buf); err != nil {
		t.Fatalf("Transcript 失败: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("输出不是 PDF")
	}
}

func TestTranscriptNoDonePages(t *testing.T) {
	page := models.NewPage(0, "p1.png", solid(10, 10, color.White))
	doc := models.NewDocument("id", "Book", "Turkish", []*models.Page{page}, nil)

	var buf bytes.Buffer
	if err := Transcript(doc, &buf); !errors.Is(err, ErrNoPages) {
		t.Fatalf("期望 ErrNoPages, 得到 %v", err)
	}
}

func TestPrintableReplacesMissingGlyphs(t *testing.T) {
	_, font := loadTranscriptFont("/nonexistent/font.ttf")
	b := &transcriptBuilder{font: font}
	if got := b.printable("A\tこ"); got != "A ?" {
		t.Fatalf("printable = %q", got)
	}
}
