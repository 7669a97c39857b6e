package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"manga-translator-web/config"
	"manga-translator-web/handlers"
	"manga-translator-web/logger"
	"manga-translator-web/middleware"
	"manga-translator-web/pipeline"
)

//go:embed all:web
var webFS embed.FS

func main() {
	if err := config.LoadDotEnv(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithError(err).Warn("读取 .env 失败")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("配置无效")
	}
	logger.SetLevel(cfg.LogLevel)

	p, err := pipeline.Build(cfg)
	if err != nil {
		logger.WithError(err).Fatal("初始化翻译流水线失败")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := middleware.NewSessionManager(cfg.SessionTimeout)
	store := handlers.NewDocumentStore(logger.DefaultSessionLines)
	sessions.OnExpire(store.DropSession)
	sessions.StartCleanup(time.Hour)
	defer sessions.Stop()

	h := handlers.NewHandler(ctx, p, store, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		TargetLanguage: cfg.TargetLanguage,
		TranscriptFont: cfg.FontPath,
	})

	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	r.Use(sessions.Middleware())
	h.Register(r)
	serveFrontend(r, cfg)

	srv := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":        srv.Addr,
			"provider":    cfg.Provider,
			"model":       cfg.Model,
			"credentials": len(cfg.APIKeys),
		}).Info("漫画翻译服务启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("服务启动失败")
		}
	}()

	<-ctx.Done()
	logger.Logger.Info("正在关闭服务")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("关闭 HTTP 服务失败")
	}

	// 后台处理会在当前页结束后退出
	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Logger.Warn("等待后台处理超时")
	}
	logger.Logger.Info("服务已停止")
}

// serveFrontend 开发模式代理到前端开发服务器，否则使用内嵌的页面
func serveFrontend(r *gin.Engine, cfg *config.Config) {
	if cfg.DevMode {
		target, err := url.Parse(cfg.FrontendDevURL)
		if err != nil {
			logger.WithError(err).Fatal("FRONTEND_DEV_URL 无效")
		}
		logger.WithField("target", target.String()).Info("开发模式：代理前端请求")
		proxy := httputil.NewSingleHostReverseProxy(target)
		r.NoRoute(func(c *gin.Context) {
			proxy.ServeHTTP(c.Writer, c.Request)
		})
		return
	}

	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		logger.WithError(err).Error("无法访问内嵌页面")
		r.NoRoute(func(c *gin.Context) {
			c.String(http.StatusNotFound, "frontend files error: "+err.Error())
		})
		return
	}
	r.NoRoute(gin.WrapH(http.FileServer(http.FS(sub))))
}
