package fetch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock_CloudflareHeaders(t *testing.T) {
	resp := &http.Response{
		StatusCode: 403,
		Header:     http.Header{"Cf-Ray": []string{"abc123"}},
	}
	blocked, blockType := DetectBlock(resp, []byte("<html>Access denied</html>"))
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, blockType)
}

func TestDetectBlock_ChallengePage(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}
	blocked, blockType := DetectBlock(resp, []byte("<html>Checking your browser before accessing</html>"))
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, blockType)
}

func TestDetectBlock_Captcha(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}
	blocked, blockType := DetectBlock(resp, []byte(`<div class="g-recaptcha"></div>`))
	assert.True(t, blocked)
	assert.Equal(t, BlockCaptcha, blockType)
}

func TestDetectBlock_JSShell(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}
	body := []byte(`<html><noscript>Please enable JavaScript</noscript></html>`)
	blocked, blockType := DetectBlock(resp, body)
	assert.True(t, blocked)
	assert.Equal(t, BlockJSShell, blockType)
}

func TestDetectBlock_CleanPage(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}
	body := []byte("<html><body><h1>Kitchen Faucet Model K-500</h1><p>A single-handle pull-down faucet.</p></body></html>")
	blocked, blockType := DetectBlock(resp, body)
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, blockType)
}

func TestDetectBlock_NilResponse(t *testing.T) {
	blocked, _ := DetectBlock(nil, []byte("captcha"))
	assert.False(t, blocked)
}

func TestDetectBlockHTML(t *testing.T) {
	blocked, blockType := DetectBlockHTML("<html>cf-browser-verification</html>")
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, blockType)

	blocked, _ = DetectBlockHTML("<html><h1>Product catalog</h1></html>")
	assert.False(t, blocked)
}
