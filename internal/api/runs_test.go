package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/internal/optimization"
	"github.com/atlas-desktop/portfolio-lab/internal/risk"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
)

func TestRunStoreEvictsOldest(t *testing.T) {
	store := NewRunStore(2)

	first := store.Put(&RunRecord{Kind: RunKindSimulation, Seed: 1})
	second := store.Put(&RunRecord{Kind: RunKindSimulation, Seed: 2})
	third := store.Put(&RunRecord{Kind: RunKindComparison, Seed: 3})

	if store.Len() != 2 {
		t.Fatalf("Expected 2 runs, got %d", store.Len())
	}
	if _, err := store.Get(first); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected oldest run to be evicted, got %v", err)
	}
	for _, id := range []string{second, third} {
		if _, err := store.Get(id); err != nil {
			t.Errorf("Run %s missing: %v", id, err)
		}
	}

	list := store.List()
	if len(list) != 2 || list[0].ID != second || list[1].ID != third {
		t.Errorf("Unexpected listing order: %+v", list)
	}
}

func TestRunRecordOutcome(t *testing.T) {
	rec := &RunRecord{ID: "r", Outcomes: []types.StrategyOutcome{{Name: "70/30"}, {Name: "max_sharpe"}}}

	o, err := rec.Outcome("")
	if err != nil || o.Name != "70/30" {
		t.Errorf("Expected first outcome, got %v, %v", o, err)
	}
	o, err = rec.Outcome("max_sharpe")
	if err != nil || o.Name != "max_sharpe" {
		t.Errorf("Expected max_sharpe, got %v, %v", o, err)
	}
	if _, err := rec.Outcome("none"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("decode: %w", ErrBadRequest), http.StatusBadRequest},
		{fmt.Errorf("x: %w", market.ErrInvalidModel), http.StatusBadRequest},
		{market.ErrInvalidWeights, http.StatusBadRequest},
		{&montecarlo.NonPositiveDefiniteError{}, http.StatusBadRequest},
		{&montecarlo.DegeneratePathError{Trajectory: 3, Step: 7}, http.StatusUnprocessableEntity},
		{risk.ErrInsufficientSample, http.StatusUnprocessableEntity},
		{&optimization.OptimizationFailedError{Status: "IterationLimit"}, http.StatusUnprocessableEntity},
		{&optimization.OptimizationFailedError{Status: "Cancelled", Cause: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{ErrRunNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
