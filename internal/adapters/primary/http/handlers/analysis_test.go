package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gradcam-service/internal/adapters/primary/http/middleware"
	"gradcam-service/internal/core/domain"
	"gradcam-service/internal/core/gradcam"
	ports "gradcam-service/internal/core/ports/output"
	"gradcam-service/internal/core/services"
	"gradcam-service/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

const basePath = "/api/v1/gradcam"

func newTestEngine(t *testing.T) *gradcam.Engine {
	t.Helper()
	return newTestEngineWith(t, testutil.TinyModelInfo())
}

func newTestEngineWith(t *testing.T, info domain.ModelInfo) *gradcam.Engine {
	t.Helper()
	backbone := new(testutil.MockBackbone)
	backbone.On("Extract", mock.Anything, mock.AnythingOfType("[]float32")).Return(testutil.Activations(), nil)

	kernel := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(testutil.TinyKernel()))
	bias := tensor.New(tensor.WithShape(3), tensor.WithBacking(testutil.TinyBias()))
	head, err := gradcam.NewHead(kernel, bias)
	require.NoError(t, err)

	model, err := gradcam.NewModel(info, backbone, head)
	require.NoError(t, err)
	return gradcam.NewEngine(model, gradcam.DefaultOptions())
}

func setupRouter(t *testing.T, engine *gradcam.Engine, repo ports.AnalysisRepository, maxUpload int64) *gin.Engine {
	t.Helper()
	return setupRouterWithPixelCap(t, engine, repo, maxUpload, 1<<20)
}

func setupRouterWithPixelCap(t *testing.T, engine *gradcam.Engine, repo ports.AnalysisRepository, maxUpload, maxPixels int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := New(services.NewAnalysisService(engine, repo), maxUpload, maxPixels)
	r := gin.New()
	r.Use(middleware.RequestID())
	h.RegisterUI(r)
	h.RegisterRoutes(r.Group(basePath))
	return r
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.GradientImage(w, h)))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAnalyze(t *testing.T) {
	repo := new(testutil.MockAnalysisRepo)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Analysis")).Return(nil)
	r := setupRouter(t, newTestEngine(t), repo, 1<<20)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{
		"image": "data:image/png;base64," + pngBase64(t, 30, 20),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ID         uuid.UUID   `json:"id"`
		Overlay    string      `json:"overlay"`
		Heatmap    [][]float64 `json:"heatmap"`
		ClassIndex int         `json:"class_index"`
		Label      string      `json:"label"`
		Top        []struct {
			ClassIndex int `json:"class_index"`
		} `json:"top"`
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.True(t, strings.HasPrefix(resp.Overlay, "data:image/png;base64,"))
	assert.Len(t, resp.Heatmap, 2)
	assert.Len(t, resp.Heatmap[0], 2)
	assert.Equal(t, 30, resp.Width)
	assert.Equal(t, 20, resp.Height)
	assert.Len(t, resp.Top, 3)
	assert.NotEmpty(t, resp.Label)

	overlay, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.Overlay, "data:image/png;base64,"))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(overlay))
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
	repo.AssertExpectations(t)
}

func TestAnalyze_ExplicitClassAndTopK(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{
		"image":       pngBase64(t, 8, 8),
		"class_index": 1,
		"top_k":       2,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["class_index"])
	assert.Equal(t, "dog", resp["label"])
	assert.Len(t, resp["top"], 2)
}

func TestAnalyze_PNGFormat(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	w := postJSON(r, basePath+"/analyze?format=png", map[string]interface{}{"image": pngBase64(t, 17, 9)})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Analysis-ID"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 17, img.Bounds().Dx())
	assert.Equal(t, 9, img.Bounds().Dy())
}

func TestAnalyze_MissingImage(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_InvalidBase64(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{"image": "%%%not-base64%%%"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrInvalidEncoding.Error())
}

func TestAnalyze_CorruptImage(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString([]byte("this is not an image")),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_ClassOutOfRange(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{
		"image":       pngBase64(t, 8, 8),
		"class_index": 3,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "class index out of range")
}

func TestAnalyze_TooLarge(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 64)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{"image": pngBase64(t, 64, 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestAnalyze_TooManyPixels(t *testing.T) {
	r := setupRouterWithPixelCap(t, newTestEngine(t), nil, 1<<20, 100)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{"image": pngBase64(t, 10, 10)})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(r, basePath+"/analyze", map[string]interface{}{"image": pngBase64(t, 11, 10)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "11x10")
}

func TestAnalyze_DeclaredDimensionsOverCap(t *testing.T) {
	r := setupRouterWithPixelCap(t, newTestEngine(t), nil, 10<<20, 40_000_000)

	// A few hundred bytes claiming 16000x16000 must not reach the decoder.
	data := testutil.PNGDeclaring(16000, 16000)
	w := postJSON(r, basePath+"/analyze", map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString(data),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "image exceeds size limit")
}

func TestAnalyze_ModelNotLoaded(t *testing.T) {
	r := setupRouter(t, nil, nil, 1<<20)

	w := postJSON(r, basePath+"/analyze", map[string]interface{}{"image": pngBase64(t, 8, 8)})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func newUpload(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if file != nil {
		part, err := mw.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, basePath+"/analyze/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAnalyzeUpload(t *testing.T) {
	repo := new(testutil.MockAnalysisRepo)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(a *domain.Analysis) bool {
		return a.Filename == "photo.png" && a.Format == "png" && a.ClassIndex == 2 && a.TargetExplicit
	})).Return(nil)
	r := setupRouter(t, newTestEngine(t), repo, 1<<20)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, testutil.GradientImage(24, 24)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newUpload(t, map[string]string{"class_index": "2"}, img.Bytes()))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fox", resp["label"])
	repo.AssertExpectations(t)
}

func TestAnalyzeUpload_MissingFile(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newUpload(t, map[string]string{"class_index": "1"}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeUpload_TooManyPixels(t *testing.T) {
	r := setupRouterWithPixelCap(t, newTestEngine(t), nil, 10<<20, 40_000_000)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newUpload(t, nil, testutil.PNGDeclaring(16000, 16000)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestAnalyzeUpload_InvalidClassIndex(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, testutil.GradientImage(8, 8)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newUpload(t, map[string]string{"class_index": "fox"}, img.Bytes()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAnalyses(t *testing.T) {
	repo := new(testutil.MockAnalysisRepo)
	r := setupRouter(t, newTestEngine(t), repo, 1<<20)

	analyses := []*domain.Analysis{
		{ID: uuid.New(), CreatedAt: time.Now(), Label: "cat"},
		{ID: uuid.New(), CreatedAt: time.Now(), Label: "dog"},
	}
	repo.On("List", mock.Anything, ports.ListFilter{Limit: 2, Offset: 0}).Return(analyses, 5, nil)

	req, _ := http.NewRequest(http.MethodGet, basePath+"/analyses?limit=2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(5), resp["total"])
	assert.Equal(t, float64(2), resp["page_size"])
	assert.Equal(t, float64(2), resp["next_offset"])
	assert.Len(t, resp["items"], 2)
}

func TestListAnalyses_ReportsAppliedPageSize(t *testing.T) {
	cases := []struct {
		query    string
		filter   ports.ListFilter
		pageSize float64
		next     float64
	}{
		{"", ports.ListFilter{Limit: 20}, 20, 1},
		{"?limit=0", ports.ListFilter{Limit: 20}, 20, 1},
		{"?limit=abc", ports.ListFilter{Limit: 20}, 20, 1},
		{"?limit=1000&offset=-4", ports.ListFilter{Limit: 100}, 100, 1},
		{"?limit=7&offset=3", ports.ListFilter{Limit: 7, Offset: 3}, 7, 4},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			repo := new(testutil.MockAnalysisRepo)
			repo.On("List", mock.Anything, tc.filter).
				Return([]*domain.Analysis{{ID: uuid.New(), CreatedAt: time.Now(), Label: "cat"}}, 9, nil).Once()
			r := setupRouter(t, newTestEngine(t), repo, 1<<20)

			req, _ := http.NewRequest(http.MethodGet, basePath+"/analyses"+tc.query, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.pageSize, resp["page_size"])
			assert.Equal(t, tc.next, resp["next_offset"])
			repo.AssertExpectations(t)
		})
	}
}

func TestListAnalyses_HistoryDisabled(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	req, _ := http.NewRequest(http.MethodGet, basePath+"/analyses", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAnalysis(t *testing.T) {
	repo := new(testutil.MockAnalysisRepo)
	r := setupRouter(t, newTestEngine(t), repo, 1<<20)

	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(&domain.Analysis{ID: id, Label: "fox", CreatedAt: time.Now()}, nil)

	req, _ := http.NewRequest(http.MethodGet, basePath+"/analyses/"+id.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp["id"])
	assert.Equal(t, "fox", resp["label"])
}

func TestGetAnalysis_NotFound(t *testing.T) {
	repo := new(testutil.MockAnalysisRepo)
	r := setupRouter(t, newTestEngine(t), repo, 1<<20)

	repo.On("GetByID", mock.Anything, mock.Anything).Return(nil, domain.ErrAnalysisNotFound)

	req, _ := http.NewRequest(http.MethodGet, basePath+"/analyses/"+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAnalysis_InvalidID(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), new(testutil.MockAnalysisRepo), 1<<20)

	req, _ := http.NewRequest(http.MethodGet, basePath+"/analyses/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetModel(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	req, _ := http.NewRequest(http.MethodGet, basePath+"/model", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["num_classes"])
	assert.Equal(t, float64(8), resp["image_size"])
	assert.Equal(t, false, resp["history_enabled"])
}

func TestGetModel_ClassesFromHeadWithoutLabels(t *testing.T) {
	info := testutil.TinyModelInfo()
	info.Classes = nil
	r := setupRouter(t, newTestEngineWith(t, info), nil, 1<<20)

	req, _ := http.NewRequest(http.MethodGet, basePath+"/model", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["num_classes"])
}

func TestIndex(t *testing.T) {
	r := setupRouter(t, newTestEngine(t), nil, 1<<20)

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/api/v1/gradcam/analyze")
}
