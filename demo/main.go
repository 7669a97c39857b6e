// 命令行版本：不启动 Web 服务，直接翻译一个文件并写出 PDF
//
//	go run ./demo -in book.cbz -out translated.pdf [-transcript transcript.pdf]
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"manga-translator-web/config"
	"manga-translator-web/logger"
	"manga-translator-web/models"
	"manga-translator-web/pdf"
	"manga-translator-web/pipeline"
	"manga-translator-web/source"
)

// consolePresenter 把进度打印到终端
type consolePresenter struct{}

func (consolePresenter) ShowPage(page *models.Page) {
	mark := "✓"
	switch page.Status() {
	case models.PageStatusError:
		mark = "✗"
	case models.PageStatusPending:
		mark = "…"
	}
	fmt.Printf("  %s 第 %d 页 %s: %s\n", mark, page.Index+1, page.Name, page.Message())
}

func (consolePresenter) ShowLog(line string) {
	fmt.Println(line)
}

func main() {
	in := flag.String("in", "", "输入文件 (pdf/zip/cbz/rar/cbr/jpg/png/webp)")
	out := flag.String("out", "translated.pdf", "输出 PDF")
	transcript := flag.String("transcript", "", "可选：原文/译文对照稿 PDF")
	lang := flag.String("lang", "", "目标语言，默认取 TARGET_LANGUAGE")
	envFile := flag.String("env", ".env", ".env 文件路径")
	verbose := flag.Bool("v", false, "输出 debug 日志")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "读取 %s 失败: %v\n", *envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ 配置无效: %v\n", err)
		os.Exit(1)
	}

	// 终端只看进度，详细日志写到 stderr
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.LogLevel)
	if *verbose {
		logger.SetLevel("debug")
	}

	if err := run(cfg, *in, *out, *transcript, *lang); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, in, out, transcript, lang string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("读取输入文件失败: %w", err)
	}

	extraction, err := source.Extract(filepath.Base(in), data)
	if err != nil {
		return fmt.Errorf("解码输入文件失败: %w", err)
	}
	for _, s := range extraction.Skipped {
		fmt.Printf("⚠️  跳过 %s: %s\n", s.Name, s.Reason)
	}
	if len(extraction.Pages) == 0 {
		return errors.New("没有可解码的页面")
	}

	if lang == "" {
		lang = cfg.TargetLanguage
	}
	pages := make([]*models.Page, len(extraction.Pages))
	for i, p := range extraction.Pages {
		pages[i] = models.NewPage(i, p.Name, p.Image)
	}
	doc := models.NewDocument(uuid.New().String(), filepath.Base(in), lang, pages, extraction.Skipped)

	p, err := pipeline.Build(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("📄 %s: %d 页，目标语言 %s\n", doc.Name, len(pages), lang)
	log := logger.WithFields(logrus.Fields{"component": "cli"})
	if err := p.Process(ctx, doc, consolePresenter{}, log); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	done, failed, total := doc.Counts()
	if done < total {
		fmt.Printf("⚠️  %d/%d 页完成，%d 页失败，导出只包含已完成的页面\n", done, total, failed)
	}

	finished := doc.DonePages()
	images := make([]image.Image, 0, len(finished))
	for _, page := range finished {
		images = append(images, page.Translated())
	}

	var buf bytes.Buffer
	if err := pdf.AssemblePages(doc.Name, images, &buf); err != nil {
		return fmt.Errorf("导出 PDF 失败: %w", err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", out, err)
	}
	fmt.Printf("✅ 已写入 %s (%d 页)\n", out, len(images))

	if transcript != "" {
		cfgT := pdf.DefaultTranscriptConfig()
		cfgT.FontPath = cfg.FontPath
		buf.Reset()
		if err := pdf.TranscriptWithConfig(doc, cfgT, &buf); err != nil {
			return fmt.Errorf("生成对照稿失败: %w", err)
		}
		if err := os.WriteFile(transcript, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", transcript, err)
		}
		fmt.Printf("✅ 已写入对照稿 %s\n", transcript)
	}
	return nil
}
