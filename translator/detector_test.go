package translator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"manga-translator-web/models"
)

func TestDecodeRegions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []models.TextRegion
		wantErr string
	}{
		{
			name: "trailing comma repaired",
			raw:  `[{"text":"a","box":[1,2,3,4]},]`,
			want: []models.TextRegion{{Text: "a", Box: models.Box{1, 2, 3, 4}}},
		},
		{
			name: "json code fence",
			raw:  "```json\n[{\"text\": \"WHAT DOES IT\\nMEAN\", \"box\": [100, 780, 210, 970],}]\n```",
			want: []models.TextRegion{{Text: "WHAT DOES IT\nMEAN", Box: models.Box{100, 780, 210, 970}}},
		},
		{
			name: "bare code fence",
			raw:  "```\n[]\n```",
			want: []models.TextRegion{},
		},
		{
			name: "missing text defaults to empty",
			raw:  `[{"box":[0,0,10,10]},{"text":null,"box":[5,5,6,6]}]`,
			want: []models.TextRegion{{Box: models.Box{0, 0, 10, 10}}, {Box: models.Box{5, 5, 6, 6}}},
		},
		{name: "empty", raw: "   ", wantErr: ReasonEmptyResponse},
		{name: "only fences", raw: "```json\n```", wantErr: ReasonEmptyResponse},
		{name: "not json", raw: "I could not find any text.", wantErr: "parse error"},
		{name: "wrong box arity", raw: `[{"text":"a","box":[1,2,3]}]`, wantErr: "parse error"},
		{name: "box not numbers", raw: `[{"text":"a","box":["1","2","3","4"]}]`, wantErr: "parse error"},
		{name: "object instead of list", raw: `{"text":"a","box":[1,2,3,4]}`, wantErr: "parse error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRegions(tt.raw)
			if tt.wantErr != "" {
				var detErr *DetectionError
				if !errors.As(err, &detErr) {
					t.Fatalf("期望 DetectionError, 得到 %v", err)
				}
				if !strings.HasPrefix(detErr.Reason, tt.wantErr) {
					t.Fatalf("Reason = %q, want prefix %q", detErr.Reason, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRegions 失败: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("区域数量 = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("区域 %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDetectorEmptyResponse(t *testing.T) {
	rec := &recorder{handle: textResponse("")}
	g := newTestGateway(t, []string{"k"}, rec)
	d := NewDetector(g, NewCache())

	_, err := d.Detect(context.Background(), nil, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err == nil || err.Error() != ReasonEmptyResponse {
		t.Fatalf("期望 %q, 得到 %v", ReasonEmptyResponse, err)
	}
	if !IsKind(err, KindDetection) {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
}

func TestDetectorCallFailureIsDetectionError(t *testing.T) {
	rec := &recorder{handle: func(string, int, Content) (*Response, error) {
		return nil, errors.New("connection refused")
	}}
	d := NewDetector(newTestGateway(t, []string{"k"}, rec), nil)

	_, err := d.Detect(context.Background(), nil, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	var detErr *DetectionError
	if !errors.As(err, &detErr) || detErr.Reason != ReasonCallFailed {
		t.Fatalf("调用失败应报告 %q, 得到 %v", ReasonCallFailed, err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("诊断信息应包含原始错误: %v", err)
	}
}

func TestDetectorCancelledIsNotDetectionError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{handle: func(string, int, Content) (*Response, error) {
		cancel()
		return nil, context.Canceled
	}}
	d := NewDetector(newTestGateway(t, []string{"k"}, rec), nil)

	_, err := d.Detect(ctx, nil, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	var detErr *DetectionError
	if errors.As(err, &detErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("取消应原样返回 context.Canceled, 得到 %v", err)
	}
}

func TestDetectorUsesCache(t *testing.T) {
	rec := &recorder{handle: textResponse(`[{"text":"HELLO","box":[10,10,100,100]}]`)}
	d := NewDetector(newTestGateway(t, []string{"k"}, rec), NewCache())

	page := image.NewRGBA(image.Rect(0, 0, 8, 8))
	page.Set(1, 1, color.Black)

	for i := 0; i < 2; i++ {
		regions, err := d.Detect(context.Background(), nil, page)
		if err != nil {
			t.Fatal(err)
		}
		if len(regions) != 1 || regions[0].Text != "HELLO" {
			t.Fatalf("区域错误: %+v", regions)
		}
	}
	if n := len(rec.calls()); n != 1 {
		t.Fatalf("相同页面第二次检测应命中缓存, 实际调用 %d 次", n)
	}
	if !strings.Contains(rec.prompts[0], "[ymin, xmin, ymax, xmax]") {
		t.Errorf("检测提示词缺少坐标格式说明")
	}
}

func TestDetectorWithoutCacheCallsModelAgain(t *testing.T) {
	rec := &recorder{handle: textResponse(`[{"text":"HELLO","box":[10,10,100,100]}]`)}
	cache := NewCache()
	d := NewDetector(newTestGateway(t, []string{"k"}, rec), cache)
	page := image.NewRGBA(image.Rect(0, 0, 8, 8))

	if _, err := d.Detect(context.Background(), nil, page); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Detect(WithoutCache(context.Background()), nil, page); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.calls()); n != 2 {
		t.Fatalf("跳过缓存时应重新调用模型, 实际调用 %d 次", n)
	}
	if _, err := d.Detect(context.Background(), nil, page); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.calls()); n != 2 {
		t.Fatalf("普通调用仍应命中缓存, 实际调用 %d 次", n)
	}
}
