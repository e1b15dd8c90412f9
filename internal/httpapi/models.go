package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"inferd/pkg/types"
)

func handleListModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.Models()})
	}
}

func handleLoadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx, cancel := requestContext(r)
		defer cancel()
		if err := svc.LoadModel(ctx, id); err != nil {
			writeDomainError(w, err)
			return
		}
		info, _ := svc.ModelInfo(id)
		writeJSON(w, info)
	}
}

func handleUnloadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.UnloadModel(id); err != nil {
			if status := statusForError(err); status != http.StatusInternalServerError {
				writeJSONError(w, status, err.Error())
			} else {
				// Loaded-with-inflight and already-unloaded both land here.
				writeJSONError(w, http.StatusConflict, err.Error())
			}
			return
		}
		info, _ := svc.ModelInfo(id)
		writeJSON(w, info)
	}
}

// handleReloadModels cycles the registry: idle models are unloaded, the
// models directory is rescanned, and everything discovered is loaded again.
func handleReloadModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := requestContext(r)
		defer cancel()
		resp, err := svc.ReloadModels(ctx)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	}
}
