package roundclock

import (
	"testing"
	"time"

	"github.com/uruklabs/uruk-lottery/go/internal/models"
)

func src(kind models.TimeSourceKind, end time.Time) *models.RoundTimeSource {
	return &models.RoundTimeSource{Kind: kind, End: end}
}

func TestSelectSourcePriority(t *testing.T) {
	end := time.Unix(1700000600, 0)
	contract := src(models.SourceContract, end)
	backend := src(models.SourceBackend, end.Add(time.Minute))
	fallback := src(models.SourceStaticFallback, end.Add(time.Hour))

	tests := []struct {
		name                        string
		contract, backend, fallback *models.RoundTimeSource
		want                        models.TimeSourceKind
	}{
		{name: "contract wins over all", contract: contract, backend: backend, fallback: fallback, want: models.SourceContract},
		{name: "backend when contract missing", backend: backend, fallback: fallback, want: models.SourceBackend},
		{name: "fallback when alone", fallback: fallback, want: models.SourceStaticFallback},
		{name: "invalid contract skipped", contract: src(models.SourceContract, time.Time{}), backend: backend, want: models.SourceBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectSource(tt.contract, tt.backend, tt.fallback)
			if got == nil {
				t.Fatal("expected a source")
			}
			if got.Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Kind)
			}
		})
	}
}

func TestSelectSourceAllInvalid(t *testing.T) {
	if got := SelectSource(nil, nil, nil); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}
