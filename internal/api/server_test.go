package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"trendboard/pkg/logger"
)

func TestInstrument_RecoversPanics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("nil level set")
	})
	h := instrument(mux, logger.Get().Component("http"))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInstrument_PassesStatusThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /busy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	h := instrument(mux, logger.Get().Component("http"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/busy", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/busy", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
