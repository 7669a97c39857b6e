package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"manga-translator-web/middleware"
	"manga-translator-web/models"
	"manga-translator-web/pipeline"
	"manga-translator-web/render"
	"manga-translator-web/translator"
)

type stubProvider struct {
	detection   string
	translation string
	detects     atomic.Int32
}

func (s *stubProvider) GetName() string { return "stub" }

func (s *stubProvider) Generate(ctx context.Context, content translator.Content) (*translator.Response, error) {
	if content.Image != nil {
		s.detects.Add(1)
		return &translator.Response{Text: s.detection}, nil
	}
	return &translator.Response{Text: s.translation}, nil
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
	store   *DocumentStore
}

func newTestServer(t *testing.T, provider *stubProvider) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool, err := translator.NewCredentialPool([]string{"test-key-1234"})
	if err != nil {
		t.Fatal(err)
	}
	factory := func(string) (translator.Provider, error) { return provider, nil }
	gateway := translator.NewGateway(pool, factory, translator.GatewayOptions{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})
	cache := translator.NewCache()
	p := pipeline.New(
		translator.NewDetector(gateway, cache),
		translator.NewBatchTranslator(gateway, cache, "Turkish"),
		render.NewCompositor(nil, "", 32, 8),
	)

	store := NewDocumentStore(100)
	h := NewHandler(context.Background(), p, store, Options{MaxUploadBytes: 10 << 20})

	sessions := middleware.NewSessionManager(time.Hour)
	sessions.OnExpire(store.DropSession)

	r := gin.New()
	r.Use(sessions.Middleware())
	h.Register(r)
	return &testServer{router: r, handler: h, store: store}
}

// do 发送请求；cookie 为空时返回响应中新下发的会话 Cookie
func (s *testServer) do(t *testing.T, req *http.Request, cookie *http.Cookie) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if cookie == nil {
		for _, c := range w.Result().Cookies() {
			if c.Name == middleware.SessionCookieName {
				cookie = c
			}
		}
	}
	return w, cookie
}

func uploadRequest(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pagePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.RGBA{220, 220, 220, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadAndWait(t *testing.T, s *testServer) (string, *http.Cookie) {
	t.Helper()
	w, cookie := s.do(t, uploadRequest(t, "page01.png", pagePNG(t), map[string]string{"targetLanguage": "Turkish"}), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("上传状态码 = %d: %s", w.Code, w.Body.String())
	}
	if cookie == nil {
		t.Fatalf("上传应下发会话 Cookie")
	}

	var resp struct {
		DocumentID string `json:"documentId"`
		Pages      int    `json:"pages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.DocumentID == "" || resp.Pages != 1 {
		t.Fatalf("上传响应 = %s", w.Body.String())
	}

	s.handler.Wait()
	return resp.DocumentID, cookie
}

func TestUploadProcessAndExport(t *testing.T) {
	s := newTestServer(t, &stubProvider{
		detection:   `[{"text":"HELLO","box":[100,100,400,900]},{"text":"WORLD","box":[600,100,900,900]}]`,
		translation: "MERHABA\n---\nDÜNYA",
	})
	id, cookie := uploadAndWait(t, s)

	w, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+id, nil), cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("状态查询 = %d", w.Code)
	}
	var view models.DocumentView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Done != 1 || view.Total != 1 || view.Running {
		t.Fatalf("文档状态 = %+v", view)
	}
	if len(view.Pages) != 1 || view.Pages[0].Status != models.PageStatusDone {
		t.Fatalf("页面状态 = %+v", view.Pages)
	}
	if got := view.Pages[0].Translations; len(got) != 2 || got[0] != "MERHABA" || got[1] != "DÜNYA" {
		t.Fatalf("译文 = %q", got)
	}

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+id+"/pages/0", nil), cookie)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("预览 = %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if img, err := png.Decode(w.Body); err != nil || img.Bounds().Dx() != 300 {
		t.Fatalf("预览不是有效的 PNG: %v", err)
	}

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+id+"/download", nil), cookie)
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("下载 = %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "translated_page01.pdf") {
		t.Fatalf("下载文件名 = %q", w.Header().Get("Content-Disposition"))
	}

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+id+"/transcript", nil), cookie)
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("对照稿 = %d", w.Code)
	}

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/logs", nil), cookie)
	var logs struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &logs); err != nil {
		t.Fatal(err)
	}
	if len(logs.Lines) == 0 {
		t.Fatalf("会话日志面板不应为空")
	}
	for _, line := range logs.Lines {
		if strings.Contains(line, "test-key-1234") {
			t.Fatalf("日志中出现了完整密钥: %q", line)
		}
	}
}

func TestDocumentsAreSessionScoped(t *testing.T) {
	s := newTestServer(t, &stubProvider{detection: "[]"})
	id, _ := uploadAndWait(t, s)

	w, other := s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+id, nil), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("其它会话不应看到文档: %d", w.Code)
	}

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents", nil), other)
	if !strings.Contains(w.Body.String(), `"total":0`) {
		t.Fatalf("其它会话的文档列表应为空: %s", w.Body.String())
	}
}

func TestFailedPageExportAndResume(t *testing.T) {
	provider := &stubProvider{detection: ""}
	s := newTestServer(t, provider)
	id, cookie := uploadAndWait(t, s)

	w, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+id+"/download", nil), cookie)
	if w.Code != http.StatusConflict {
		t.Fatalf("没有完成页面时下载应返回 409, 得到 %d", w.Code)
	}

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+id+"/pages/0", nil), cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("失败页面也应能预览: %d", w.Code)
	}

	provider.detection = "[]"
	w, _ = s.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/"+id+"/resume", nil), cookie)
	if w.Code != http.StatusAccepted {
		t.Fatalf("resume = %d", w.Code)
	}
	s.handler.Wait()

	doc, _ := s.store.Get(cookie.Value, id)
	if done, failed, _ := doc.Counts(); done != 1 || failed != 0 {
		t.Fatalf("重试后 done=%d failed=%d", done, failed)
	}
}

func TestForcedUploadSkipsCache(t *testing.T) {
	provider := &stubProvider{detection: "[]"}
	s := newTestServer(t, provider)

	_, cookie := uploadAndWait(t, s)
	w, _ := s.do(t, uploadRequest(t, "page01.png", pagePNG(t), nil), cookie)
	if w.Code != http.StatusAccepted {
		t.Fatalf("重复上传 = %d", w.Code)
	}
	s.handler.Wait()
	if n := provider.detects.Load(); n != 1 {
		t.Fatalf("相同页面再次上传应命中缓存, 检测调用 %d 次", n)
	}

	w, _ = s.do(t, uploadRequest(t, "page01.png", pagePNG(t), map[string]string{"force": "true"}), cookie)
	if w.Code != http.StatusAccepted {
		t.Fatalf("强制上传 = %d", w.Code)
	}
	s.handler.Wait()
	if n := provider.detects.Load(); n != 2 {
		t.Fatalf("force=true 应重新调用模型, 检测调用 %d 次", n)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	s := newTestServer(t, &stubProvider{})

	w, _ := s.do(t, uploadRequest(t, "book.epub", []byte("x"), nil), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("不支持的格式应返回 400, 得到 %d", w.Code)
	}

	w, _ = s.do(t, uploadRequest(t, "broken.png", []byte("not an image"), nil), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("无法解码的文件应返回 422, 得到 %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents", nil)
	w, _ = s.do(t, req, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺少文件应返回 400, 得到 %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubProvider{})
	w, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil), nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}
