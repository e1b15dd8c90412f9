package httpapi

import (
	"net/http"

	"inferd/pkg/types"
)

// pressureResponse is returned by GET /memory/pressure.
type pressureResponse struct {
	MemoryPressure bool     `json:"memory_pressure"`
	Recommended    []string `json:"recommended_unloads,omitempty"`
}

// cleanupResponse is returned by POST /memory/cleanup.
type cleanupResponse struct {
	Unloaded []string `json:"unloaded"`
}

func handleMemoryStats(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.MemoryStats())
	}
}

func handleMemoryPressure(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		under, recommended := svc.MemoryPressure()
		writeJSON(w, pressureResponse{MemoryPressure: under, Recommended: recommended})
	}
}

// handleMemoryLimit adjusts the eviction budget at runtime. A zero or
// absent limit_mb leaves the budget unchanged and just reports the current
// memory stats.
func handleMemoryLimit(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.MemoryLimitRequest
		if r.ContentLength != 0 {
			if !decodeJSON(w, r, &req) {
				return
			}
		}
		if req.LimitMB < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit_mb must be positive")
			return
		}
		if req.LimitMB > 0 {
			svc.SetMemoryBudget(uint64(req.LimitMB) << 20)
		}
		writeJSON(w, svc.MemoryStats())
	}
}

func handleMemoryCleanup(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unloaded := svc.Cleanup()
		if unloaded == nil {
			unloaded = []string{}
		}
		writeJSON(w, cleanupResponse{Unloaded: unloaded})
	}
}
