package status

import (
	"fmt"

	"github.com/kilianp07/planboard/core/model"
)

// AcceptedRejected parses a wire code from an accepted/rejected response.
func AcceptedRejected(code string) (model.Disposition, error) {
	switch model.Disposition(code) {
	case model.DispositionAccepted:
		return model.DispositionAccepted, nil
	case model.DispositionRejected:
		return model.DispositionRejected, nil
	}
	return "", fmt.Errorf("%w: unmapped accepted/rejected code %q", model.ErrConfiguration, code)
}

// AcceptedDisputed parses a wire code from an accepted/disputed response.
func AcceptedDisputed(code string) (model.Disposition, error) {
	switch model.Disposition(code) {
	case model.DispositionAccepted:
		return model.DispositionAccepted, nil
	case model.DispositionDisputed:
		return model.DispositionDisputed, nil
	}
	return "", fmt.Errorf("%w: unmapped accepted/disputed code %q", model.ErrConfiguration, code)
}

// TriggerFor maps a disposition to the trigger it raises on the owning
// document.
func TriggerFor(d model.Disposition) (Trigger, error) {
	switch d {
	case model.DispositionAccepted:
		return Accepted, nil
	case model.DispositionRejected:
		return Rejected, nil
	case model.DispositionDisputed:
		return Disputed, nil
	}
	return "", fmt.Errorf("%w: disposition %q has no trigger", model.ErrConfiguration, string(d))
}

// DispositionFor is the inverse of TriggerFor.
func DispositionFor(t Trigger) (model.Disposition, error) {
	switch t {
	case Accepted:
		return model.DispositionAccepted, nil
	case Rejected:
		return model.DispositionRejected, nil
	case Disputed:
		return model.DispositionDisputed, nil
	}
	return "", fmt.Errorf("%w: trigger %q carries no disposition", model.ErrConfiguration, string(t))
}
