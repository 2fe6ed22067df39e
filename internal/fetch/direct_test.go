package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/resilience"
)

var productPage = `<html><head><title>K-500 Faucet</title></head><body>
<h1>Single-Handle Pull-Down Kitchen Faucet</h1>
<p>Model K-500. Polished chrome finish with a high-arc spout and magnetic docking.</p>
<img src="/images/k500.jpg">
</body></html>`

func TestDirectTier_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "SpecPipe")
		_, _ = w.Write([]byte(productPage))
	}))
	defer srv.Close()

	tier := NewDirectTier(0, 0)
	capture, err := tier.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, model.TierDirect, capture.Tier)
	assert.Equal(t, model.CaptureSuccess, capture.Status)
	assert.Equal(t, http.StatusOK, capture.StatusCode)
	assert.Contains(t, capture.Body, "K-500")
}

func TestDirectTier_BlockedNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>Checking your browser before accessing example.com</html>"))
	}))
	defer srv.Close()

	tier := NewDirectTier(0, 0)
	_, err := tier.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var blockErr *BlockedError
	require.True(t, errors.As(err, &blockErr))
	assert.Equal(t, BlockCloudflare, blockErr.Type)
	assert.False(t, resilience.IsTransient(err))
}

func TestDirectTier_ServerErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tier := NewDirectTier(0, 0)
	_, err := tier.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestDirectTier_NotFoundPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tier := NewDirectTier(0, 0)
	_, err := tier.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestDirectTier_ThinBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	tier := NewDirectTier(0, 100)
	_, err := tier.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "too small"))
}
