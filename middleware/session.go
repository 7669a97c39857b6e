package middleware

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"manga-translator-web/logger"
)

const (
	SessionCookieName     = "session_id"
	DefaultSessionTimeout = 24 * time.Hour

	sessionContextKey = "sessionID"
)

// Session 浏览器会话，文档和日志面板都按会话隔离
type Session struct {
	ID        string
	CreatedAt time.Time
	LastSeen  time.Time
}

// SessionManager 会话管理器
type SessionManager struct {
	sessions map[string]*Session
	timeout  time.Duration
	onExpire func(sessionID string)
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager 创建会话管理器，timeout <= 0 时使用默认的 24 小时
func NewSessionManager(timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

// OnExpire 会话过期或删除时回调，用于释放会话下的文档
func (sm *SessionManager) OnExpire(fn func(sessionID string)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onExpire = fn
}

// Timeout 会话有效期
func (sm *SessionManager) Timeout() time.Duration {
	return sm.timeout
}

// generateSessionID 生成随机会话 ID
func generateSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		h := sha256.New()
		h.Write([]byte(time.Now().String()))
		h.Write([]byte(os.Getenv("HOSTNAME")))
		h.Write([]byte(fmt.Sprintf("%d", os.Getpid())))
		return hex.EncodeToString(h.Sum(nil))
	}
	return hex.EncodeToString(b)
}

// GetOrCreateSession 获取或创建会话
func (sm *SessionManager) GetOrCreateSession(sessionID string) *Session {
	sm.mu.Lock()
	var expired string

	if sessionID != "" {
		if session, exists := sm.sessions[sessionID]; exists {
			if time.Since(session.LastSeen) < sm.timeout {
				session.LastSeen = time.Now()
				sm.mu.Unlock()
				return session
			}
			delete(sm.sessions, sessionID)
			expired = sessionID
		}
	}

	now := time.Now()
	session := &Session{
		ID:        generateSessionID(),
		CreatedAt: now,
		LastSeen:  now,
	}
	sm.sessions[session.ID] = session
	onExpire := sm.onExpire
	sm.mu.Unlock()

	if expired != "" && onExpire != nil {
		onExpire(expired)
	}
	return session
}

// GetSession 获取会话（不创建新会话）
func (sm *SessionManager) GetSession(sessionID string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists || time.Since(session.LastSeen) >= sm.timeout {
		return nil, false
	}
	session.LastSeen = time.Now()
	return session, true
}

// DeleteSession 删除会话
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	_, exists := sm.sessions[sessionID]
	delete(sm.sessions, sessionID)
	onExpire := sm.onExpire
	sm.mu.Unlock()

	if exists && onExpire != nil {
		onExpire(sessionID)
	}
}

// Len 当前会话数
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CleanupExpired 删除过期会话，返回删除数量
func (sm *SessionManager) CleanupExpired() int {
	sm.mu.Lock()
	now := time.Now()
	var expired []string
	for id, session := range sm.sessions {
		if now.Sub(session.LastSeen) >= sm.timeout {
			delete(sm.sessions, id)
			expired = append(expired, id)
		}
	}
	onExpire := sm.onExpire
	sm.mu.Unlock()

	if onExpire != nil {
		for _, id := range expired {
			onExpire(id)
		}
	}
	return len(expired)
}

// StartCleanup 定期清理过期会话，直到 Stop 被调用
func (sm *SessionManager) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := sm.CleanupExpired(); n > 0 {
					logger.WithField("expired", n).Info("已清理过期会话")
				}
			case <-sm.stop:
				return
			}
		}
	}()
}

// Stop 停止清理协程
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

// Middleware Gin 中间件：确保每个请求都有会话
func (sm *SessionManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, _ := c.Cookie(SessionCookieName)
		session := sm.GetOrCreateSession(sessionID)

		if sessionID != session.ID {
			isSecure := c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
			c.SetCookie(
				SessionCookieName,
				session.ID,
				int(sm.timeout.Seconds()),
				"/",
				"",
				isSecure,
				true, // httpOnly
			)
		}

		c.Set(sessionContextKey, session.ID)
		c.Next()
	}
}

// GetSessionID 从上下文获取会话 ID
func GetSessionID(c *gin.Context) string {
	sessionID, exists := c.Get(sessionContextKey)
	if !exists {
		return ""
	}
	if id, ok := sessionID.(string); ok {
		return id
	}
	return ""
}
