package purchase

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeQuantity turns raw form input into a ticket count. Leading
// zeros are stripped, non-digit input is rejected, and "0" normalizes to
// no valid quantity at all.
func NormalizeQuantity(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrInvalidQuantity
	}

	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
		}
	}

	stripped := strings.TrimLeft(trimmed, "0")
	if stripped == "" {
		// "0", "00", ... carry no quantity
		return 0, ErrInvalidQuantity
	}

	quantity, err := strconv.ParseInt(stripped, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	return quantity, nil
}
