// Package pipeline 逐页执行 检测 -> 批量翻译 -> 排版合成
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"manga-translator-web/logger"
	"manga-translator-web/models"
	"manga-translator-web/render"
	"manga-translator-web/translator"
)

// ErrAlreadyRunning 文档已在处理中
var ErrAlreadyRunning = errors.New("document is already being processed")

// Presenter 接收处理进度，Web 会话和命令行各有实现
type Presenter interface {
	ShowPage(page *models.Page)
	ShowLog(line string)
}

// Pipeline 页面处理流水线
type Pipeline struct {
	Detector   *translator.Detector
	Translator *translator.BatchTranslator
	Compositor *render.Compositor
}

// New 创建流水线
func New(detector *translator.Detector, batch *translator.BatchTranslator, compositor *render.Compositor) *Pipeline {
	return &Pipeline{
		Detector:   detector,
		Translator: batch,
		Compositor: compositor,
	}
}

// Process 按页序逐页处理文档。已完成的页面直接展示，不再调用模型；
// 失败的页面重新进入 pending 并再处理一次。单页失败不会中断整个文档。
func (p *Pipeline) Process(ctx context.Context, doc *models.Document, presenter Presenter, log *logrus.Entry) error {
	if log == nil {
		log = logger.WithField("component", "pipeline")
	}
	log = log.WithField("document", doc.ID)

	if !doc.TryStart() {
		return ErrAlreadyRunning
	}
	defer doc.Finish()

	total := len(doc.Pages)
	log.WithFields(logrus.Fields{"pages": total, "target_language": doc.TargetLanguage}).Info("开始处理文档")

	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("处理被取消")
			return err
		}

		if page.Status() == models.PageStatusDone {
			show(presenter, page)
			continue
		}

		notify(presenter, fmt.Sprintf("Processing page %d/%d (%s)", page.Index+1, total, page.Name))
		if err := p.ProcessPage(ctx, doc.TargetLanguage, page, log); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.WithError(ctxErr).Warn("处理被取消")
				show(presenter, page)
				return ctxErr
			}
			notify(presenter, fmt.Sprintf("Page %d failed: %s", page.Index+1, page.Message()))
		}
		show(presenter, page)
	}

	done, failed, _ := doc.Counts()
	log.WithFields(logrus.Fields{"done": done, "failed": failed, "total": total}).Info("文档处理结束")
	notify(presenter, fmt.Sprintf("Finished: %d/%d pages translated, %d failed", done, total, failed))
	return nil
}

// ProcessPage 处理单页：pending -> done | error。
// done 的页面直接返回；error 的页面先回到 pending。返回的错误已经记录在页面上，
// 只有 ctx 被取消时例外：页面保持 pending，返回 ctx 的错误。
func (p *Pipeline) ProcessPage(ctx context.Context, targetLanguage string, page *models.Page, log *logrus.Entry) error {
	switch page.Status() {
	case models.PageStatusDone:
		return nil
	case models.PageStatusError:
		page.Retry()
	}

	if log == nil {
		log = logger.WithField("component", "pipeline")
	}
	log = log.WithFields(logrus.Fields{"page": page.Index, "name": page.Name})

	detector := p.Detector.WithLogger(log)
	regions, err := detector.Detect(ctx, p.client(log), page.Source())
	if err != nil {
		return p.fail(ctx, page, err, log)
	}

	if len(regions) == 0 {
		img, _ := p.Compositor.Render(page.Source(), nil, nil, log)
		log.Info("页面没有检测到文本")
		return page.MarkDone(img, nil, nil, 0, "no text detected")
	}

	texts := make([]string, len(regions))
	for i, r := range regions {
		texts[i] = r.Text
	}

	batch := p.Translator.WithLogger(log).WithTargetLanguage(targetLanguage)
	translations, err := batch.TranslateBatch(ctx, p.client(log), texts)
	if err != nil {
		return p.fail(ctx, page, err, log)
	}

	img, plans := p.Compositor.Render(page.Source(), regions, translations, log)
	overflow := 0
	for _, plan := range plans {
		if plan.Overflow {
			overflow++
		}
	}

	message := fmt.Sprintf("translated %d regions", len(regions))
	if overflow > 0 {
		message += fmt.Sprintf(", %d did not fit", overflow)
	}
	log.WithFields(logrus.Fields{"regions": len(regions), "overflow": overflow}).Info("页面翻译完成")
	return page.MarkDone(img, regions, translations, overflow, message)
}

// client 当前游标对应的客户端；配置失败时返回 nil，由网关在重试中处理
func (p *Pipeline) client(log *logrus.Entry) *translator.Client {
	if p.Detector == nil || p.Detector.Gateway == nil {
		return nil
	}
	c, err := p.Detector.Gateway.Active()
	if err != nil {
		log.WithError(err).Warn("当前凭证无法配置，交给网关轮换")
		return nil
	}
	return c
}

func (p *Pipeline) fail(ctx context.Context, page *models.Page, err error, log *logrus.Entry) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.WithError(ctxErr).Warn("页面处理被取消，保持 pending")
		return ctxErr
	}
	log.WithFields(logrus.Fields{"kind": translator.KindOf(err)}).WithError(err).Error("页面处理失败")
	if markErr := page.MarkError(err.Error()); markErr != nil {
		return markErr
	}
	return err
}

func show(presenter Presenter, page *models.Page) {
	if presenter != nil {
		presenter.ShowPage(page)
	}
}

func notify(presenter Presenter, line string) {
	if presenter != nil {
		presenter.ShowLog(line)
	}
}
