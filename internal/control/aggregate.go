package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/greenwave-io/greenwave/internal/ir"
	"github.com/greenwave-io/greenwave/internal/logging"
	"github.com/greenwave-io/greenwave/internal/sim"
)

// BelongsTo reports whether a lane is attributed to an intersection.
// Attribution is by substring match on the ids, so an id that is a substring
// of another intersection's lane names ("I1" vs "I10_lane0") over-attributes.
func BelongsTo(laneID, intersectionID string) bool {
	return intersectionID != "" && strings.Contains(laneID, intersectionID)
}

// Aggregate reads the engine's lane counters and reduces them to one state
// record per intersection id.
func Aggregate(ctx context.Context, eng sim.Engine, ids []string) (ir.StateSnapshot, error) {
	lanes, err := eng.LaneVehicleCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read lane vehicle counts: %w", err)
	}
	waiting, err := eng.LaneWaitingVehicleCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read lane waiting counts: %w", err)
	}
	vehicles, err := eng.Vehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read vehicles: %w", err)
	}

	laneIDs := make([]string, 0, len(lanes))
	for lane := range lanes {
		laneIDs = append(laneIDs, lane)
	}
	sort.Strings(laneIDs)

	queryPhase := eng.Capabilities().PhaseQuery
	snapshot := make(ir.StateSnapshot, len(ids))
	for _, id := range ids {
		st := ir.IntersectionState{
			ID:                        id,
			Lanes:                     []string{},
			TotalVehiclesInSimulation: len(vehicles),
		}
		for _, lane := range laneIDs {
			if !BelongsTo(lane, id) {
				continue
			}
			st.Lanes = append(st.Lanes, lane)
			st.VehicleCount += lanes[lane]
			st.WaitingVehicleCount += waiting[lane]
		}
		if queryPhase {
			st.CurrentPhase = currentPhase(ctx, eng, id)
		}
		snapshot[id] = st
	}
	return snapshot, nil
}

func currentPhase(ctx context.Context, eng sim.Engine, id string) int {
	phase, err := eng.TLPhase(ctx, id)
	if err != nil {
		if errors.Is(err, sim.ErrUnsupported) {
			logging.Debug("phase query unsupported", "intersection", id)
		} else {
			logging.Warn("failed to query current phase", "intersection", id, "error", err)
		}
		return 0
	}
	return phase
}
