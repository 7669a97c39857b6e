package pipeline

import (
	"manga-translator-web/config"
	"manga-translator-web/render"
	"manga-translator-web/translator"
)

// Build 按配置组装流水线：凭证池 -> 网关 -> 检测/翻译 -> 字体/合成。
// 启动时先用第一个凭证配置一次客户端，配置错误在处理任何页面之前暴露。
func Build(cfg *config.Config) (*Pipeline, error) {
	pool, err := translator.NewCredentialPool(cfg.APIKeys)
	if err != nil {
		return nil, err
	}

	factory := translator.NewProviderFactory(translator.ProviderConfig{
		Type:    translator.ProviderType(cfg.Provider),
		APIURL:  cfg.APIURL,
		Model:   cfg.Model,
		Timeout: cfg.RequestTimeout,
	})
	gateway := translator.NewGateway(pool, factory, translator.GatewayOptions{
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		MaxAttempts:  cfg.MaxAttempts,
	})
	if _, err := gateway.Configure(0); err != nil {
		return nil, err
	}

	cache := translator.NewCache()
	fitter := render.NewFitter(render.NewFontSet())

	return New(
		translator.NewDetector(gateway, cache),
		translator.NewBatchTranslator(gateway, cache, cfg.TargetLanguage),
		render.NewCompositor(fitter, cfg.FontPath, cfg.MaxFontSize, cfg.MinFontSize),
	), nil
}
