package httpserver

import (
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteResponseCoercesInt(t *testing.T) {
	w := httptest.NewRecorder()
	writeResponse(w, 204)
	assert.Equal(t, 204, w.Code)
}

func TestWriteResponseCoercesString(t *testing.T) {
	w := httptest.NewRecorder()
	writeResponse(w, "hello")
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "hello", w.Body.String())
}

func TestWriteResponseCoercesBytes(t *testing.T) {
	w := httptest.NewRecorder()
	writeResponse(w, []byte{1, 2, 3})
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{1, 2, 3}, w.Body.Bytes())
}

func TestWriteResponseCoercesObject(t *testing.T) {
	w := httptest.NewRecorder()
	writeResponse(w, map[string]any{"ok": true})
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestWriteResponseCoercesFilePath(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fw-*.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte("firmware-bytes"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w := httptest.NewRecorder()
	writeResponse(w, FilePath(f.Name()))
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "firmware-bytes", w.Body.String())
}

func TestWriteResponseUnknownTypeIs500(t *testing.T) {
	w := httptest.NewRecorder()
	writeResponse(w, struct{ X int }{X: 1})
	assert.Equal(t, 500, w.Code)
}

func TestDecodeBodyJSON(t *testing.T) {
	got := decodeBody("application/json", []byte(`{"a":1}`))
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])
}

func TestDecodeBodyFormURLEncoded(t *testing.T) {
	got := decodeBody("application/x-www-form-urlencoded", []byte("A=1&b=2"))
	m, ok := got.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "1", m["a"])
}

func TestDecodeBodyPlainText(t *testing.T) {
	got := decodeBody("text/plain", []byte("hi"))
	assert.Equal(t, "hi", got)
}

func TestDecodeBodyFallsBackToRawBytes(t *testing.T) {
	got := decodeBody("application/octet-stream", []byte{0xff, 0xfe, 0x00})
	_, ok := got.([]byte)
	assert.True(t, ok)
}
