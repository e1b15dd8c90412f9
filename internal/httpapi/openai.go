package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"inferd/pkg/types"
)

var completionSeq atomic.Uint64

func completionID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), completionSeq.Add(1))
}

func handleOpenAIModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := svc.Models()
		list := types.OpenAIModelList{Object: "list", Data: make([]types.OpenAIModel, 0, len(models))}
		for _, m := range models {
			list.Data = append(list.Data, types.OpenAIModel{
				ID:      m.ID,
				Object:  "model",
				OwnedBy: "inferd",
			})
		}
		writeJSON(w, list)
	}
}

func handleCompletions(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CompletionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		gen := types.GenerateRequest{
			Model:       req.Model,
			Prompt:      req.Prompt,
			Stream:      req.Stream,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.Stop,
			Seed:        req.Seed,
		}
		model := req.Model
		if model == "" {
			model = svc.DefaultModel()
		}
		ctx, cancel := requestContext(r)
		defer cancel()

		if req.Stream {
			id := completionID("cmpl")
			created := time.Now().Unix()
			streamCompletion(w, r, svc, gen, func(token string, finish string) any {
				return types.CompletionResponse{
					ID:      id,
					Object:  "text_completion",
					Model:   model,
					Created: created,
					Choices: []types.CompletionChoice{{Text: token, FinishReason: finish}},
				}
			})
			return
		}

		res, err := svc.Generate(ctx, gen)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeDomainError(w, err)
			return
		}
		writeJSON(w, types.CompletionResponse{
			ID:      completionID("cmpl"),
			Object:  "text_completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []types.CompletionChoice{{Text: res.Text, FinishReason: res.FinishReason}},
			Usage:   res.Usage,
		})
	}
}

func handleChatCompletions(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatCompletionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "messages are required")
			return
		}
		model := req.Model
		if model == "" {
			model = svc.DefaultModel()
		}
		var family string
		if info, ok := svc.ModelInfo(model); ok {
			family = info.Family
		}
		gen := types.GenerateRequest{
			Model:       req.Model,
			Prompt:      flattenChat(family, req.Messages),
			Stream:      req.Stream,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.Stop,
			Seed:        req.Seed,
		}
		ctx, cancel := requestContext(r)
		defer cancel()

		if req.Stream {
			id := completionID("chatcmpl")
			created := time.Now().Unix()
			streamCompletion(w, r, svc, gen, func(token string, finish string) any {
				choice := types.ChatChunkChoice{Delta: types.ChatDelta{Content: token}, FinishReason: finish}
				if finish != "" {
					choice.Delta = types.ChatDelta{}
				}
				return types.ChatCompletionChunk{
					ID:      id,
					Object:  "chat.completion.chunk",
					Created: created,
					Model:   model,
					Choices: []types.ChatChunkChoice{choice},
				}
			})
			return
		}

		res, err := svc.Generate(ctx, gen)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeDomainError(w, err)
			return
		}
		writeJSON(w, types.ChatCompletionResponse{
			ID:      completionID("chatcmpl"),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []types.ChatCompletionChoice{{
				Message:      types.ChatMessage{Role: "assistant", Content: res.Text},
				FinishReason: res.FinishReason,
			}},
			Usage: res.Usage,
		})
	}
}

// streamCompletion writes an SSE stream of payloads built by mkEvent,
// terminated by the [DONE] sentinel.
func streamCompletion(w http.ResponseWriter, r *http.Request, svc Service, gen types.GenerateRequest, mkEvent func(token, finish string) any) {
	gen.Stream = true
	ctx, cancel := requestContext(r)
	defer cancel()

	ch, err := svc.GenerateStream(ctx, gen)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	first, open := <-ch
	if open && first.Err != nil {
		writeDomainError(w, first.Err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writeEvent := func(v any) bool {
		b, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false
		}
		if flush != nil {
			flush()
		}
		return true
	}
	emit := func(chunk chunkView) bool {
		if chunk.done {
			return writeEvent(mkEvent("", "stop"))
		}
		return writeEvent(mkEvent(chunk.token, ""))
	}
	if open {
		if !emit(chunkView{token: first.Token, done: first.Done}) {
			return
		}
	}
	for chunk := range ch {
		if chunk.Err != nil {
			// Mid-stream failure; the transcript is already partial, so
			// just stop.
			break
		}
		if !emit(chunkView{token: chunk.Token, done: chunk.Done}) {
			return
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flush != nil {
		flush()
	}
}

type chunkView struct {
	token string
	done  bool
}
