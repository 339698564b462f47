package ai

import (
	"context"
	"fmt"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
)

// Unconfigured stands in when no generation backend is wired; every request
// fails with AIServiceError so mentions degrade gracefully instead of
// hanging.
type Unconfigured struct{}

func (Unconfigured) Generate(_ context.Context, persona, _ string, cb Callbacks) {
	cb.OnError(fmt.Errorf("%w: no generation backend configured for %s", apperrors.ErrAIService, persona))
}
