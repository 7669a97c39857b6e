package handlers

import (
	"sort"
	"sync"

	"manga-translator-web/logger"
	"manga-translator-web/models"
)

// DocumentStore 按会话隔离的文档和日志面板
type DocumentStore struct {
	// sessionID -> documentID -> document
	documents map[string]map[string]*models.Document
	panels    map[string]*logger.SessionLog
	panelSize int
	mu        sync.RWMutex
}

// NewDocumentStore 创建文档存储，panelSize 为每个会话日志面板保留的行数
func NewDocumentStore(panelSize int) *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]map[string]*models.Document),
		panels:    make(map[string]*logger.SessionLog),
		panelSize: panelSize,
	}
}

// Add 为会话添加文档
func (s *DocumentStore) Add(sessionID string, doc *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.documents[sessionID] == nil {
		s.documents[sessionID] = make(map[string]*models.Document)
	}
	s.documents[sessionID][doc.ID] = doc
}

// Get 获取会话中的文档
func (s *DocumentStore) Get(sessionID, documentID string) (*models.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if docs, exists := s.documents[sessionID]; exists {
		doc, found := docs[documentID]
		return doc, found
	}
	return nil, false
}

// List 按创建时间返回会话中的全部文档
func (s *DocumentStore) List(sessionID string) []*models.Document {
	s.mu.RLock()
	docs := make([]*models.Document, 0, len(s.documents[sessionID]))
	for _, doc := range s.documents[sessionID] {
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs
}

// Panel 会话日志面板，不存在时创建
func (s *DocumentStore) Panel(sessionID string) *logger.SessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	panel, exists := s.panels[sessionID]
	if !exists {
		panel = logger.NewSessionLog(s.panelSize)
		s.panels[sessionID] = panel
	}
	return panel
}

// DropSession 会话过期时释放它的文档和日志
func (s *DocumentStore) DropSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.documents, sessionID)
	delete(s.panels, sessionID)
}

// Count 全部会话的文档总数
func (s *DocumentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, docs := range s.documents {
		n += len(docs)
	}
	return n
}
