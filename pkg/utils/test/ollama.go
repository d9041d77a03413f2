package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
)

// NewOllamaServer fakes the Ollama embed and chat endpoints. /api/embed
// answers with HashVector embeddings of the given size. /api/chat answers
// with extraction when JSON output is requested and with reply otherwise.
func NewOllamaServer(reply, extraction string, dimensions int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var body struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			vecs := make([][]float32, 0, len(body.Input))
			for _, in := range body.Input {
				vecs = append(vecs, HashVector(in, dimensions))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
		case "/api/chat":
			var body struct {
				Format string `json:"format"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			content := reply
			if body.Format == "json" {
				content = extraction
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": content},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}
