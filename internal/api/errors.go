package api

import (
	"net/http"

	postsv1 "github.com/jdholdren/postsync/api/posts/v1"
	"github.com/jdholdren/postsync/internal/server"
)

func (s Server) getErrors(w http.ResponseWriter, r *http.Request) error {
	entries := s.sink.Entries()

	resp := postsv1.ErrorsResponse{
		Entries: make([]postsv1.ErrorEntry, 0, len(entries)),
		Kinds:   s.sink.Kinds(),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, postsv1.ErrorEntry{
			Kind:    e.Kind,
			Details: e.Details,
			At:      e.At,
		})
	}

	return server.WriteJSON(w, http.StatusOK, resp)
}

// Acknowledges every entry.
func (s Server) deleteErrors(w http.ResponseWriter, r *http.Request) error {
	s.sink.Clear()

	w.WriteHeader(http.StatusNoContent)
	return nil
}
