package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/modelgate/modelgate/internal/limiter"
	"github.com/modelgate/modelgate/internal/tokens"
)

// UserHeader carries the caller identity used for usage limiting.
const UserHeader = "X-ModelGate-User"

// maxEstimateBytes bounds how much of the body is read for the token
// estimate; anything larger is admitted on the truncated estimate.
const maxEstimateBytes = 1 << 20

// UsageLimit admits or rejects requests against the usage limiter, charging
// an up-front token estimate derived from the request text. A nil limiter
// disables the check.
func UsageLimit(lim *limiter.UsageLimiter, estimator *tokens.Estimator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if lim == nil {
				next.ServeHTTP(w, r)
				return
			}

			userID := r.Header.Get(UserHeader)
			if userID == "" {
				writeError(w, http.StatusBadRequest, "missing "+UserHeader+" header")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxEstimateBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			estimate := estimateTokens(estimator, body)
			dec := lim.CheckUsage(r.Context(), userID, &estimate, nil)
			if !dec.Allowed {
				logger.Info("request denied by usage limiter",
					slog.String("user_id", userID),
					slog.String("reason", dec.Reason))
				writeError(w, http.StatusTooManyRequests, dec.Reason)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// estimateTokens derives the admission token estimate from an inference
// request body. Unparseable bodies estimate to zero and are left for the
// handler to reject.
func estimateTokens(estimator *tokens.Estimator, body []byte) int64 {
	var req InferenceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0
	}
	var text bytes.Buffer
	for _, m := range req.Input.Messages {
		text.WriteString(m.Content)
		text.WriteByte('\n')
	}
	return estimator.Estimate(req.ModelName, text.String())
}
