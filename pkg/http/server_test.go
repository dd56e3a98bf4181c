package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
}

func TestNewServer_Options(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}, nil},
		WithHost("127.0.0.1"),
		WithPort(9090),
		WithCORS("https://dash.example.com"),
		WithMetrics("/metrics", prometheus.NewRegistry()),
	)
	assert.Equal(t, "127.0.0.1", s.config.Host)
	assert.Equal(t, 9090, s.config.Port)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example.com")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServer_EmptyHostKeepsDefault(t *testing.T) {
	s := NewServer(nil, nil, WithHost(""), WithCORS(), WithMetrics("", prometheus.NewRegistry()))
	assert.Equal(t, "0.0.0.0", s.config.Host)
	assert.Empty(t, s.config.CORSOrigins)
}

func TestAppErrorResponse_UnknownErrorIs500(t *testing.T) {
	e := echo.New()
	e.GET("/boom", func(c echo.Context) error { return AppErrorResponse(c, assert.AnError) })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
}
