package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"manga-translator-web/logger"
	"manga-translator-web/middleware"
	"manga-translator-web/models"
	"manga-translator-web/pdf"
	"manga-translator-web/pipeline"
	"manga-translator-web/source"
	"manga-translator-web/translator"
)

// Options 处理器配置
type Options struct {
	MaxUploadBytes int64
	TargetLanguage string
	TranscriptFont string
}

// Handler 文档上传、处理进度、预览和导出接口
type Handler struct {
	pipeline *pipeline.Pipeline
	store    *DocumentStore
	opts     Options

	ctx  context.Context
	runs sync.WaitGroup
}

// NewHandler 创建处理器。ctx 取消时后台处理在当前页结束后停止
func NewHandler(ctx context.Context, p *pipeline.Pipeline, store *DocumentStore, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = "Turkish"
	}
	return &Handler{
		pipeline: p,
		store:    store,
		opts:     opts,
		ctx:      ctx,
	}
}

// Register 注册 /api 路由
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/documents", h.Upload)
		api.GET("/documents", h.List)
		api.GET("/documents/:id", h.Status)
		api.GET("/documents/:id/pages/:index", h.PagePreview)
		api.POST("/documents/:id/resume", h.Resume)
		api.GET("/documents/:id/download", h.Download)
		api.GET("/documents/:id/transcript", h.Transcript)
		api.GET("/logs", h.Logs)
		api.GET("/health", h.Health)
	}
}

// Wait 等待所有后台处理结束
func (h *Handler) Wait() {
	h.runs.Wait()
}

// Upload 上传文件，解码页面后在后台开始处理
func (h *Handler) Upload(c *gin.Context) {
	sessionID := middleware.GetSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的会话"})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未找到上传文件"})
		return
	}
	if file.Size > h.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("文件超过 %d MB 上限", h.opts.MaxUploadBytes>>20)})
		return
	}
	if _, err := source.KindOf(file.Filename); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "不支持的文件格式",
			"supported": source.SupportedExtensions(),
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败: " + err.Error()})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, h.opts.MaxUploadBytes+1))
	f.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败: " + err.Error()})
		return
	}

	log := h.sessionLog(sessionID)
	extraction, err := source.Extract(file.Filename, data)
	if err != nil {
		log.WithField("file", file.Filename).WithError(err).Error("文件解码失败")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "文件解码失败: " + err.Error()})
		return
	}
	if len(extraction.Pages) == 0 {
		log.WithField("file", file.Filename).Error("文件中没有可解码的页面")
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "文件中没有可解码的页面",
			"skipped": extraction.Skipped,
		})
		return
	}

	pages := make([]*models.Page, len(extraction.Pages))
	for i, p := range extraction.Pages {
		pages[i] = models.NewPage(i, p.Name, p.Image)
	}

	lang := strings.TrimSpace(c.PostForm("targetLanguage"))
	if lang == "" {
		lang = h.opts.TargetLanguage
	}
	doc := models.NewDocument(uuid.New().String(), file.Filename, lang, pages, extraction.Skipped)
	h.store.Add(sessionID, doc)

	docLog := log.WithField("document", doc.ID)
	docLog.WithFields(logrus.Fields{
		"file":    file.Filename,
		"kind":    extraction.Kind,
		"pages":   len(pages),
		"skipped": len(extraction.Skipped),
	}).Info("文档已上传")
	for _, s := range extraction.Skipped {
		docLog.WithFields(logrus.Fields{"entry": s.Name, "reason": s.Reason}).Warn("页面无法解码，已跳过")
	}

	h.start(sessionID, doc, formBool(c.PostForm("force")))

	c.JSON(http.StatusAccepted, gin.H{
		"documentId": doc.ID,
		"pages":      len(pages),
		"skipped":    extraction.Skipped,
	})
}

// start 后台处理文档，panic 记录到页面日志而不是让进程退出。
// force 为 true 时本次处理不读响应缓存。
func (h *Handler) start(sessionID string, doc *models.Document, force bool) {
	panel := h.store.Panel(sessionID)
	log := logger.ForSession(sessionID, panel)

	ctx := h.ctx
	if force {
		ctx = translator.WithoutCache(ctx)
		log.WithField("document", doc.ID).Info("强制重新翻译，跳过缓存")
	}

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("document", doc.ID).Errorf("处理过程出错（panic）: %v", r)
			}
		}()

		err := h.pipeline.Process(ctx, doc, &panelPresenter{panel: panel}, log)
		if err != nil && !errors.Is(err, pipeline.ErrAlreadyRunning) {
			log.WithField("document", doc.ID).WithError(err).Warn("文档处理中断")
		}
	}()
}

// List 当前会话的全部文档
func (h *Handler) List(c *gin.Context) {
	sessionID := middleware.GetSessionID(c)
	docs := h.store.List(sessionID)

	views := make([]models.DocumentView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, doc.View(false))
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": views,
		"total":     len(views),
	})
}

// Status 文档状态，包含每页的状态和诊断信息
func (h *Handler) Status(c *gin.Context) {
	doc, ok := h.document(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc.View(true))
}

// PagePreview 页面预览 PNG：已完成返回译图，失败返回带错误横条的原图，其余返回原图
func (h *Handler) PagePreview(c *gin.Context) {
	doc, ok := h.document(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "页码无效"})
		return
	}
	page, ok := doc.Page(index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "页面不存在"})
		return
	}

	var img image.Image = page.Source()
	if c.Query("original") != "true" {
		switch page.Status() {
		case models.PageStatusDone:
			img = page.Translated()
		case models.PageStatusError:
			img = h.pipeline.Compositor.Banner(page.Source(), page.Message())
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "编码预览失败: " + err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// Resume 重新进入流水线：已完成页面跳过，失败页面重试。?force=true 时不读缓存
func (h *Handler) Resume(c *gin.Context) {
	doc, ok := h.document(c)
	if !ok {
		return
	}
	if doc.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "文档正在处理中"})
		return
	}

	h.start(middleware.GetSessionID(c), doc, formBool(c.Query("force")))
	c.JSON(http.StatusAccepted, gin.H{"documentId": doc.ID})
}

// Download 把已完成的页面按页序导出为 PDF，未完成的页面不包含在内
func (h *Handler) Download(c *gin.Context) {
	doc, ok := h.document(c)
	if !ok {
		return
	}

	done := doc.DonePages()
	images := make([]image.Image, 0, len(done))
	for _, p := range done {
		images = append(images, p.Translated())
	}

	var buf bytes.Buffer
	if err := pdf.AssemblePages(baseName(doc.Name), images, &buf); err != nil {
		h.exportError(c, doc, err)
		return
	}

	doneCount, _, total := doc.Counts()
	c.Header("X-Pages-Exported", strconv.Itoa(doneCount))
	c.Header("X-Pages-Total", strconv.Itoa(total))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "translated_"+baseName(doc.Name)+".pdf"))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// Transcript 原文/译文对照稿
func (h *Handler) Transcript(c *gin.Context) {
	doc, ok := h.document(c)
	if !ok {
		return
	}

	cfg := pdf.DefaultTranscriptConfig()
	cfg.FontPath = h.opts.TranscriptFont

	var buf bytes.Buffer
	if err := pdf.TranscriptWithConfig(doc, cfg, &buf); err != nil {
		h.exportError(c, doc, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transcript_"+baseName(doc.Name)+".pdf"))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// Logs 当前会话的日志面板
func (h *Handler) Logs(c *gin.Context) {
	sessionID := middleware.GetSessionID(c)
	lines := h.store.Panel(sessionID).Lines()
	c.JSON(http.StatusOK, gin.H{
		"lines": lines,
		"total": len(lines),
	})
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"documents": h.store.Count(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) document(c *gin.Context) (*models.Document, bool) {
	sessionID := middleware.GetSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的会话"})
		return nil, false
	}
	doc, exists := h.store.Get(sessionID, c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在或无权访问"})
		return nil, false
	}
	return doc, true
}

func (h *Handler) exportError(c *gin.Context, doc *models.Document, err error) {
	if errors.Is(err, pdf.ErrNoPages) {
		done, failed, total := doc.Counts()
		c.JSON(http.StatusConflict, gin.H{
			"error":  "还没有已完成的页面",
			"done":   done,
			"failed": failed,
			"total":  total,
		})
		return
	}
	h.sessionLog(middleware.GetSessionID(c)).WithField("document", doc.ID).WithError(err).Error("导出失败")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "导出失败: " + err.Error()})
}

func (h *Handler) sessionLog(sessionID string) *logrus.Entry {
	return logger.ForSession(sessionID, h.store.Panel(sessionID))
}

func baseName(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

func formBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// panelPresenter 把流水线进度写入会话日志面板
type panelPresenter struct {
	panel *logger.SessionLog
}

func (p *panelPresenter) ShowPage(page *models.Page) {
	line := fmt.Sprintf("page %d %s: %s", page.Index+1, page.Name, page.Status())
	if msg := page.Message(); msg != "" {
		line += " (" + msg + ")"
	}
	p.panel.Add(logger.FormatLine(time.Now(), logrus.InfoLevel, line, nil))
}

func (p *panelPresenter) ShowLog(line string) {
	p.panel.Add(logger.FormatLine(time.Now(), logrus.InfoLevel, line, nil))
}
