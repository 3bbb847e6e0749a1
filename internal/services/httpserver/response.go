package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
)

// FilePath marks a handler result as "stream this file as
// application/octet-stream", matching spec §4.5's path response shape.
type FilePath string

// writeResponse implements spec §4.5's response coercion table.
func writeResponse(w http.ResponseWriter, result any) {
	switch v := result.(type) {
	case nil:
		w.WriteHeader(http.StatusNotFound)

	case int:
		w.WriteHeader(v)

	case string:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(v))

	case []byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(v)

	case FilePath:
		f, err := os.Open(string(v))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, f)

	case map[string]any, []any:
		w.Header().Set("Content-Type", "application/json")
		body, err := json.Marshal(v)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)

	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}
