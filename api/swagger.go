package api

import (
	"net/http"

	"tweetattest-backend/docs"
)

// RegisterDocs serves the OpenAPI document.
func RegisterDocs(mux *http.ServeMux) {
	mux.HandleFunc("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		doc := docs.SwaggerInfo.ReadDoc()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})
}
