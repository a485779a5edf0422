package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidharthmenon/withoutbg-api/config"
	"github.com/sidharthmenon/withoutbg-api/middleware"
	"github.com/sidharthmenon/withoutbg-api/model"
	"github.com/sidharthmenon/withoutbg-api/service"
)

// stubRemover 左半保留、右半抠掉的固定实现
type stubRemover struct {
	err error
}

func (s *stubRemover) Remove(_ context.Context, img image.Image) (image.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			alpha := uint8(255)
			if x >= bounds.Dx()/2 {
				alpha = 0
			}
			out.SetNRGBA(x, y, color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: alpha})
		}
	}
	return out, nil
}

func testConfig(tokens string) *config.Config {
	return &config.Config{
		Server: config.Server{
			Mode:           "test",
			ProcessTimeout: 5 * time.Second,
		},
		Auth: config.Auth{Tokens: tokens},
		Upload: config.Upload{
			MaxSize: 15 * 1024 * 1024,
		},
		Static: config.Static{Dir: "./no-such-dir"},
	}
}

// newTestRouter 按main.go的方式组装路由
func newTestRouter(cfg *config.Config, holder *service.ModelHolder) *gin.Engine {
	gin.SetMode(gin.TestMode)

	matting := service.NewMattingService(holder, nil)
	h := New(cfg, matting, "test")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.GET("/health", h.Health)
	r.POST("/remove-background", middleware.APIKeyAuth(&cfg.Auth), h.RemoveBackground)
	RegisterStatic(r, cfg.Static.Dir)
	return r
}

func readyHolder(r service.Remover) *service.ModelHolder {
	holder := service.NewModelHolder()
	holder.Set(r)
	return holder
}

func jpegUpload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 60, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func pngUpload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartUpload 构造带显式Content-Type的multipart请求体
func multipartUpload(t *testing.T, contentType string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="upload.bin"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	return body, w.FormDataContentType()
}

func postRemove(t *testing.T, r *gin.Engine, contentType string, payload []byte, fields map[string]string, apiKey string) *httptest.ResponseRecorder {
	t.Helper()

	body, formType := multipartUpload(t, contentType, payload, fields)
	req := httptest.NewRequest(http.MethodPost, "/remove-background", body)
	req.Header.Set("Content-Type", formType)
	if apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, apiKey)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestRemoveBackgroundFormats 响应Content-Type必须与请求格式一致，未识别值回退PNG
func TestRemoveBackgroundFormats(t *testing.T) {
	tests := []struct {
		format        string
		wantMediaType string
		wantExt       string
	}{
		{format: "png", wantMediaType: "image/png", wantExt: "png"},
		{format: "jpg", wantMediaType: "image/jpeg", wantExt: "jpg"},
		{format: "jpeg", wantMediaType: "image/jpeg", wantExt: "jpeg"},
		{format: "JPG", wantMediaType: "image/jpeg", wantExt: "jpg"},
		{format: "webp", wantMediaType: "image/webp", wantExt: "webp"},
		{format: "bogus", wantMediaType: "image/png", wantExt: "png"},
	}

	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))
	payload := pngUpload(t)

	for _, tt := range tests {
		t.Run("format_"+tt.format, func(t *testing.T) {
			w := postRemove(t, r, "image/png", payload, map[string]string{"format": tt.format}, "")

			require.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Body.Bytes())
			assert.Equal(t, tt.wantMediaType, w.Header().Get("Content-Type"))
			assert.Equal(t, fmt.Sprintf("inline; filename=withoutbg.%s", tt.wantExt),
				w.Header().Get("Content-Disposition"))
		})
	}
}

// TestRemoveBackgroundDefaultFormat 不传format时输出PNG
func TestRemoveBackgroundDefaultFormat(t *testing.T) {
	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))

	w := postRemove(t, r, "image/jpeg", jpegUpload(t), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	_, format, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

// TestRemoveBackgroundJPEGOutputOpaque 请求jpg时输出无alpha且能按JPEG解码
func TestRemoveBackgroundJPEGOutputOpaque(t *testing.T) {
	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))

	w := postRemove(t, r, "image/png", pngUpload(t), map[string]string{"format": "jpg", "quality": "95"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	decoded, err := jpeg.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)

	// 被抠掉的右半区域也必须完全不透明（合成到白底）
	_, _, _, a := decoded.At(28, 8).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestRemoveBackgroundRejectsNonImage(t *testing.T) {
	t.Run("auth disabled", func(t *testing.T) {
		r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))

		w := postRemove(t, r, "text/plain", []byte("hello"), nil, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "must be an image")
	})

	t.Run("auth enabled with valid key", func(t *testing.T) {
		r := newTestRouter(testConfig("abc"), readyHolder(&stubRemover{}))

		w := postRemove(t, r, "text/plain", []byte("hello"), nil, "abc")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "must be an image")
	})
}

func TestRemoveBackgroundRejectsCorruptImage(t *testing.T) {
	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))

	w := postRemove(t, r, "image/png", []byte("not actually a png"), nil, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveBackgroundInvalidQuality(t *testing.T) {
	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))

	w := postRemove(t, r, "image/png", pngUpload(t), map[string]string{"quality": "high"}, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "quality")
}

// TestRemoveBackgroundAuthMatrix 令牌集合{abc,def}下的鉴权行为
func TestRemoveBackgroundAuthMatrix(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		wantStatus int
	}{
		{name: "valid key abc", apiKey: "abc", wantStatus: http.StatusOK},
		{name: "valid key def", apiKey: "def", wantStatus: http.StatusOK},
		{name: "invalid key", apiKey: "xyz", wantStatus: http.StatusForbidden},
		{name: "missing key", apiKey: "", wantStatus: http.StatusUnauthorized},
	}

	r := newTestRouter(testConfig("abc,def"), readyHolder(&stubRemover{}))
	payload := pngUpload(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postRemove(t, r, "image/png", payload, nil, tt.apiKey)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRemoveBackgroundNoAuthConfigured(t *testing.T) {
	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))

	w := postRemove(t, r, "image/png", pngUpload(t), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRemoveBackgroundModelNotLoaded(t *testing.T) {
	r := newTestRouter(testConfig(""), service.NewModelHolder())

	w := postRemove(t, r, "image/png", pngUpload(t), nil, "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Models not loaded")
}

// TestRemoveBackgroundModelErrorPassthrough 模型错误映射为500并透传消息
func TestRemoveBackgroundModelErrorPassthrough(t *testing.T) {
	stub := &stubRemover{err: &service.MattingError{Err: fmt.Errorf("unsupported image characteristics")}}
	r := newTestRouter(testConfig(""), readyHolder(stub))

	w := postRemove(t, r, "image/png", pngUpload(t), nil, "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported image characteristics")
}

// TestRemoveBackgroundIdempotent 同一输入提交两次得到两个独立的成功响应
func TestRemoveBackgroundIdempotent(t *testing.T) {
	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))
	payload := pngUpload(t)

	w1 := postRemove(t, r, "image/png", payload, map[string]string{"format": "webp"}, "")
	w2 := postRemove(t, r, "image/png", payload, map[string]string{"format": "webp"}, "")

	require.Equal(t, http.StatusOK, w1.Code)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, w1.Header().Get("Content-Type"), w2.Header().Get("Content-Type"))
	assert.NotEmpty(t, w1.Body.Bytes())
	assert.NotEmpty(t, w2.Body.Bytes())
}

// TestHealthReflectsModelState models_loaded随加载状态翻转
func TestHealthReflectsModelState(t *testing.T) {
	holder := service.NewModelHolder()
	r := newTestRouter(testConfig(""), holder)

	get := func() model.HealthResponse {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp model.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	resp := get()
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceName, resp.Service)
	assert.False(t, resp.ModelsLoaded)

	holder.Set(&stubRemover{})

	resp = get()
	assert.True(t, resp.ModelsLoaded)
}

func TestCORSHeaders(t *testing.T) {
	r := newTestRouter(testConfig(""), readyHolder(&stubRemover{}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Disposition", w.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodOptions, "/remove-background", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
