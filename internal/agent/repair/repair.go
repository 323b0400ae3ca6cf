// Package repair turns raw model output into a validated value, asking the
// model to fix its own output a bounded number of times.
package repair

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kairos/internal/apperr"
	"kairos/internal/logging"
	"kairos/internal/transport"
)

// DefaultMaxRepairs is the repair budget when none is configured.
const DefaultMaxRepairs = 2

// SystemPrompt instructs the model during a repair round.
const SystemPrompt = `You repair JSON documents. You receive a document that failed validation and the validation error.
Return only the corrected JSON document: no prose, no markdown fences, no comments.
Keep every value that was valid. Do not add fields that are not in the original shape.`

// Loop configures ParseAndValidate.
type Loop struct {
	Transport transport.Transport
	// MaxRepairs bounds repair calls. Zero or less disables repair.
	MaxRepairs int
	Options    transport.Options
	Logger     *zap.Logger
}

type Result[T any] struct {
	Value   T
	Success bool
	// RepairCount is the number of repair calls made.
	RepairCount int
	// LastErr is the last extraction or validation failure, if any.
	LastErr error
}

// ParseAndValidate extracts and decodes raw with decode. On failure it sends
// the output and the error back to the model and tries again, at most
// l.MaxRepairs times. Exhaustion is VALIDATION_FAILED; a transport failure
// while repairing is MODEL_UNAVAILABLE.
func ParseAndValidate[T any](ctx context.Context, l Loop, raw string, decode func([]byte) (T, error)) (Result[T], error) {
	log := logging.OrNop(l.Logger)
	var res Result[T]
	text := raw
	for {
		v, err := attempt(text, decode)
		if err == nil {
			res.Value = v
			res.Success = true
			res.LastErr = nil
			return res, nil
		}
		res.LastErr = err
		if res.RepairCount >= l.MaxRepairs {
			return res, apperr.Wrap(apperr.ValidationFailed, err,
				"model output failed validation after %d repair attempts: %v", res.RepairCount, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		log.Debug("repairing model output", zap.Int("attempt", res.RepairCount+1), zap.Error(err))
		text, err = l.Transport.Complete(ctx, SystemPrompt, UserPrompt(text, err), l.Options)
		res.RepairCount++
		if err != nil {
			return res, apperr.Wrap(apperr.ModelUnavailable, err, "model unavailable during repair")
		}
	}
}

func attempt[T any](text string, decode func([]byte) (T, error)) (T, error) {
	var zero T
	payload, err := Extract(text)
	if err != nil {
		return zero, err
	}
	return decode([]byte(payload))
}

// UserPrompt carries the invalid output and its error to the model.
func UserPrompt(invalid string, cause error) string {
	return fmt.Sprintf("Validation error:\n%v\n\nDocument to repair:\n%s", cause, invalid)
}
