package translator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"manga-translator-web/logger"
)

const (
	// DefaultInitialDelay 第一次限流后的等待时间
	DefaultInitialDelay = 3 * time.Second
	// DefaultMaxDelay 等待时间上限
	DefaultMaxDelay = 15 * time.Second
	// delayMultiplier 每次限流后等待时间的增长倍数
	delayMultiplier = 1.5
)

// Client 绑定到某个凭证索引的 Provider
type Client struct {
	Provider  Provider
	Index     int
	KeySuffix string
}

// GatewayOptions 重试参数，零值使用默认值
type GatewayOptions struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 表示凭证数 + 2
}

type gatewayState struct {
	mu     sync.Mutex
	active *Client
}

// Gateway 模型调用网关：遇到限流时轮换凭证并退避重试
type Gateway struct {
	pool    *CredentialPool
	factory ProviderFactory
	opts    GatewayOptions
	log     *logrus.Entry
	state   *gatewayState
}

// NewGateway 创建网关
func NewGateway(pool *CredentialPool, factory ProviderFactory, opts GatewayOptions) *Gateway {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	return &Gateway{
		pool:    pool,
		factory: factory,
		opts:    opts,
		log:     logger.WithField("component", "gateway"),
		state:   &gatewayState{},
	}
}

// WithLogger 返回写入指定日志的网关副本，凭证池和当前客户端共享
func (g *Gateway) WithLogger(log *logrus.Entry) *Gateway {
	cp := *g
	cp.log = log.WithField("component", "gateway")
	return &cp
}

// Pool 凭证池
func (g *Gateway) Pool() *CredentialPool {
	return g.pool
}

// DefaultAttempts 默认最大尝试次数
func (g *Gateway) DefaultAttempts() int {
	if g.opts.MaxAttempts > 0 {
		return g.opts.MaxAttempts
	}
	return g.pool.Size() + 2
}

// Configure 用第 index 个凭证构建客户端，日志中只出现密钥后 4 位
func (g *Gateway) Configure(index int) (*Client, error) {
	key, ok := g.pool.Key(index)
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("credential index %d out of range", index), nil)
	}

	provider, err := g.factory(key)
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"credential_index": index,
		}).WithError(err).Error("模型客户端配置失败")
		return nil, NewConfigurationError(fmt.Sprintf("credential index %d", index), err)
	}

	client := &Client{Provider: provider, Index: index, KeySuffix: logger.MaskKey(key)}
	g.log.WithFields(logrus.Fields{
		"credential_index": index,
		"key":              client.KeySuffix,
		"provider":         provider.GetName(),
	}).Info("模型客户端已配置")

	g.state.mu.Lock()
	g.state.active = client
	g.state.mu.Unlock()
	return client, nil
}

// Active 返回绑定到当前游标的客户端，游标变化后重新配置
func (g *Gateway) Active() (*Client, error) {
	index, _ := g.pool.Current()

	g.state.mu.Lock()
	active := g.state.active
	g.state.mu.Unlock()

	if active != nil && active.Index == index {
		return active, nil
	}
	return g.Configure(index)
}

// Call 调用模型。限流错误：轮换凭证、等待、重新配置，等待时间每次乘 1.5 直到上限；
// 其它错误立即返回。尝试次数用尽时返回 nil 响应和最后一次错误。
// client 为 nil 时使用 Active()。
func (g *Gateway) Call(ctx context.Context, client *Client, content Content, maxAttempts int, initialDelay time.Duration) (*Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = g.DefaultAttempts()
	}
	if initialDelay <= 0 {
		initialDelay = g.opts.InitialDelay
	}
	maxDelay := g.opts.MaxDelay
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	current := client
	if current == nil {
		if c, err := g.Active(); err == nil {
			current = c
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialDelay
	b.Multiplier = delayMultiplier
	b.MaxInterval = maxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)

	var (
		resp    *Response
		attempt int
	)

	op := func() error {
		attempt++
		if current == nil {
			index, _ := g.pool.Current()
			c, err := g.Configure(index)
			if err != nil {
				g.pool.RotateFrom(index)
				return err
			}
			current = c
		}

		r, err := current.Provider.Generate(ctx, content)
		if err == nil {
			resp = r
			g.log.WithFields(logrus.Fields{
				"credential_index": current.Index,
				"attempt":          attempt,
			}).Info("API 调用成功")
			return nil
		}

		callErr := Classify(err)
		if callErr.Kind != KindRateLimit {
			g.log.WithFields(logrus.Fields{
				"credential_index": current.Index,
				"attempt":          attempt,
			}).WithError(err).Error("API 调用出现非限流错误，不再重试")
			return backoff.Permanent(callErr)
		}

		next := g.pool.RotateFrom(current.Index)
		g.log.WithFields(logrus.Fields{
			"credential_index": current.Index,
			"next_index":       next,
			"attempt":          attempt,
		}).WithError(err).Warn("429 限流，切换到下一个凭证")
		current = nil
		return callErr
	}

	notify := func(err error, wait time.Duration) {
		g.log.WithField("delay", wait.String()).Info("等待后重新配置客户端")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		kind := KindOf(err)
		if kind == KindRateLimit || kind == KindConfiguration {
			g.log.WithField("attempts", attempt).WithError(err).Error("API 调用在多次尝试后仍然失败")
			return nil, &CallError{
				Kind:    kind,
				Message: fmt.Sprintf("gave up after %d attempts", attempt),
				Cause:   err,
			}
		}
		return nil, err
	}

	return resp, nil
}
