package roundclock

import (
	"github.com/uruklabs/uruk-lottery/go/internal/models"
)

// SelectSource picks the authoritative end-time reading by explicit
// priority: Contract > Backend > StaticFallback. A source participates
// only while it carries a defined end time; the fallback exists purely so
// the countdown is never frozen or null.
func SelectSource(contract, backend, fallback *models.RoundTimeSource) *models.RoundTimeSource {
	if contract.Valid() {
		return contract
	}
	if backend.Valid() {
		return backend
	}
	if fallback.Valid() {
		return fallback
	}
	return nil
}
