package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/satsrail/payouts/internal/authz"
	"github.com/satsrail/payouts/internal/limits"
)

// RemoteLimits fetches server-side ceilings.
type RemoteLimits interface {
	Limits(ctx context.Context) (*authz.LimitsResponse, error)
}

// LocalUsage exposes the in-process guard state.
type LocalUsage interface {
	Usage() limits.Usage
}

// AttemptCounter exposes the attempt limiter state.
type AttemptCounter interface {
	Attempts() int
}

type LimitsController struct {
	remote   RemoteLimits
	guard    LocalUsage
	attempts AttemptCounter
	logger   zerolog.Logger
}

func NewLimitsController(remote RemoteLimits, guard LocalUsage, attempts AttemptCounter, logger zerolog.Logger) *LimitsController {
	return &LimitsController{remote: remote, guard: guard, attempts: attempts, logger: logger}
}

// GetLimits handles GET /api/v1/limits. Local usage is always returned; a failing
// authorization service only blanks the remote half.
func (h *LimitsController) GetLimits(w http.ResponseWriter, r *http.Request) {
	resp := LimitsResponse{Local: toLocalLimits(h.guard.Usage(), h.attempts.Attempts())}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	remote, err := h.remote.Limits(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("fetch remote limits failed")
		resp.RemoteError = err.Error()
	} else {
		resp.Remote = remote
	}

	writeJSON(w, http.StatusOK, resp)
}
