package status_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/uruklabs/uruk-lottery/go/clients"
)

const defaultTimeout = 3 * time.Second

// ErrBackendUnavailable wraps every failure mode of the status endpoint:
// connection errors, non-200 responses, malformed JSON, and missing
// fields. Callers treat all of them the same way and fall back to another
// time source.
var ErrBackendUnavailable = errors.New("backend time source unavailable")

// Status is the backend's authoritative round and clock snapshot.
type Status struct {
	Success    bool       `json:"success"`
	RoundInfo  RoundInfo  `json:"roundInfo"`
	ServerTime ServerTime `json:"serverTime"`
}

// RoundInfo describes the currently running round.
type RoundInfo struct {
	CurrentRoundID    json.Number `json:"currentRoundId"`
	RoundEndTimestamp int64       `json:"roundEndTimestamp"`
	TimeRemaining     int64       `json:"timeRemaining"`
	NextDrawTime      int64       `json:"nextDrawTime"`
}

// ServerTime carries the backend clock reading used for offset correction.
type ServerTime struct {
	Timestamp int64 `json:"timestamp"`
}

// RoundID parses the round identifier into an integer.
func (r RoundInfo) RoundID() (*big.Int, error) {
	id, ok := new(big.Int).SetString(r.CurrentRoundID.String(), 10)
	if !ok {
		return nil, fmt.Errorf("%w: unparsable round id %q", ErrBackendUnavailable, r.CurrentRoundID)
	}
	return id, nil
}

// RoundEnd returns the round end as wall-clock time.
func (r RoundInfo) RoundEnd() time.Time {
	return time.Unix(r.RoundEndTimestamp, 0)
}

// StatusClient fetches round status from the lottery backend.
type StatusClient struct {
	base *clients.BaseClient
}

func NewStatusClient(baseURL string, timeout time.Duration) *StatusClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &StatusClient{
		base: clients.NewBaseClient(baseURL, timeout),
	}
}

// FetchStatus reads and validates /api/status. Any failure comes back as
// ErrBackendUnavailable so the caller degrades instead of erroring out.
func (c *StatusClient) FetchStatus(ctx context.Context) (*Status, error) {
	body, err := c.base.Get(ctx, "/api/status")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrBackendUnavailable, err)
	}

	if !status.Success {
		return nil, fmt.Errorf("%w: backend reported failure", ErrBackendUnavailable)
	}
	if status.RoundInfo.CurrentRoundID.String() == "" || status.RoundInfo.RoundEndTimestamp == 0 {
		return nil, fmt.Errorf("%w: response missing required roundInfo fields", ErrBackendUnavailable)
	}
	if status.ServerTime.Timestamp == 0 {
		return nil, fmt.Errorf("%w: response missing serverTime", ErrBackendUnavailable)
	}

	return &status, nil
}
