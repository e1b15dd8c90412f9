package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"inferd/internal/serving"
	"inferd/pkg/types"
)

// tokenLine is one NDJSON line in a /generate/stream response.
type tokenLine struct {
	Token string       `json:"token,omitempty"`
	Done  bool         `json:"done,omitempty"`
	Usage *types.Usage `json:"usage,omitempty"`
	Error string       `json:"error,omitempty"`
}

func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		ctx, cancel := requestContext(r)
		defer cancel()

		res, err := svc.Generate(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := writeDomainError(w, err)
			logRequestEnd(r, lvl, r.URL.Path, status, time.Since(start).Seconds(), err)
			return
		}
		writeJSON(w, res)
		logRequestEnd(r, lvl, r.URL.Path, http.StatusOK, time.Since(start).Seconds(), nil)
	}
}

// maxBatchRequests caps one POST /batch/generate call; larger batches
// should go through individual requests where backpressure applies per
// submission.
const maxBatchRequests = 10

func handleBatchGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reqs []types.GenerateRequest
		if !decodeJSON(w, r, &reqs) {
			return
		}
		if len(reqs) == 0 {
			writeJSONError(w, http.StatusBadRequest, "at least one request is required")
			return
		}
		if len(reqs) > maxBatchRequests {
			writeJSONError(w, http.StatusBadRequest, "batch size exceeds limit of 10")
			return
		}
		for _, req := range reqs {
			if strings.TrimSpace(req.Prompt) == "" {
				writeJSONError(w, http.StatusBadRequest, "prompt is required for every request")
				return
			}
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		ctx, cancel := requestContext(r)
		defer cancel()

		results := svc.GenerateBatch(ctx, reqs)
		writeJSON(w, types.BatchResponse{Results: results})
		logRequestEnd(r, lvl, r.URL.Path, http.StatusOK, time.Since(start).Seconds(), nil)
	}
}

func handleGenerateStream(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		req.Stream = true
		lvl := requestLogLevel(r)
		start := time.Now()
		ctx, cancel := requestContext(r)
		defer cancel()

		ch, err := svc.GenerateStream(ctx, req)
		if err != nil {
			status := writeDomainError(w, err)
			logRequestEnd(r, lvl, r.URL.Path, status, time.Since(start).Seconds(), err)
			return
		}

		// Peek the first chunk so pre-stream failures (unknown model, load
		// errors) still map to a proper status code.
		first, open := <-ch
		if open && first.Err != nil {
			status := writeDomainError(w, first.Err)
			logRequestEnd(r, lvl, r.URL.Path, status, time.Since(start).Seconds(), first.Err)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		enc := json.NewEncoder(writer)
		emit := func(chunk tokenLine) bool {
			if err := enc.Encode(chunk); err != nil {
				return false
			}
			if flush != nil {
				flush()
			}
			return true
		}
		if open {
			if !emit(toTokenLine(first)) {
				return
			}
		}
		for chunk := range ch {
			if !emit(toTokenLine(chunk)) {
				// Client went away; the pool notices via ctx.
				return
			}
		}
		logRequestEnd(r, lvl, r.URL.Path, http.StatusOK, time.Since(start).Seconds(), nil)
	}
}

func toTokenLine(chunk serving.Chunk) tokenLine {
	line := tokenLine{Token: chunk.Token, Done: chunk.Done}
	if chunk.Done && chunk.Err == nil {
		u := chunk.Usage
		line.Usage = &u
	}
	if chunk.Err != nil {
		line.Error = chunk.Err.Error()
	}
	return line
}
