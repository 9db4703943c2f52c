package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/modelgate/modelgate/internal/config"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InferenceRequest addresses either a configured function or a model
// directly (including shorthand "provider::model" references).
type InferenceRequest struct {
	FunctionName string `json:"function_name,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	Input        struct {
		Messages []Message `json:"messages"`
	} `json:"input"`
}

// InferenceResponse reports which model/provider served the request.
type InferenceResponse struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Content  string `json:"content"`
}

// Transport executes a request against a single provider. Wire-level
// adapters live behind this interface; the gateway only sequences them.
type Transport interface {
	Complete(ctx context.Context, model string, provider config.ProviderConfig, req *InferenceRequest) (*InferenceResponse, error)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.cfg.Models().Names()})
}

// handleInference resolves the target model (via function variant when
// addressed by function), then walks the model's routing list and fallback
// chain until a provider succeeds.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	var req InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	modelName := req.ModelName
	if req.FunctionName != "" {
		fn, err := s.cfg.GetFunction(req.FunctionName)
		if errors.Is(err, config.ErrUnknownFunction) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		modelName = pickVariant(fn).Model
	}
	if modelName == "" {
		writeError(w, http.StatusBadRequest, "request must name a function or a model")
		return
	}

	table := s.cfg.Models()
	if !table.Resolvable(modelName) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", modelName))
		return
	}

	var lastErr error
	for _, name := range fallbackChain(table, modelName) {
		def, ok := table.Get(name)
		if !ok {
			continue
		}
		for _, providerName := range def.Routing {
			resp, err := s.transport.Complete(r.Context(), name, def.Providers[providerName], &req)
			if err != nil {
				lastErr = err
				continue
			}
			resp.Model = name
			resp.Provider = providerName
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	msg := "all providers failed"
	if lastErr != nil {
		msg += ": " + lastErr.Error()
	}
	writeError(w, http.StatusBadGateway, msg)
}

// pickVariant selects the heaviest variant, breaking ties by name so the
// choice is stable.
func pickVariant(fn *config.FunctionConfig) *config.VariantConfig {
	names := make([]string, 0, len(fn.Variants))
	for name := range fn.Variants {
		names = append(names, name)
	}
	sort.Strings(names)

	var best *config.VariantConfig
	for _, name := range names {
		v := fn.Variants[name]
		if best == nil || v.Weight > best.Weight {
			best = v
		}
	}
	return best
}

// fallbackChain expands a model's transitive fallback list in try-order:
// the model itself, its fallbacks, then their fallbacks, deduplicated.
// Config validation guarantees the relation is acyclic.
func fallbackChain(table *config.ModelTable, modelName string) []string {
	var chain []string
	seen := map[string]struct{}{}
	queue := []string{modelName}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		chain = append(chain, name)
		if def, ok := table.Get(name); ok {
			queue = append(queue, def.FallbackModels...)
		}
	}
	return chain
}

func (s *Server) handleLimiterMetrics(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeError(w, http.StatusNotFound, "usage limits disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.limiter.GetMetrics())
}

func (s *Server) handleInvalidateUser(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeError(w, http.StatusNotFound, "usage limits disabled")
		return
	}
	userID := chi.URLParam(r, "user")
	s.limiter.ClearUserCache(userID)
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": userID})
}

func (s *Server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeError(w, http.StatusNotFound, "usage limits disabled")
		return
	}
	s.limiter.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": "all"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
