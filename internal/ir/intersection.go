package ir

// IntersectionState is the per-step traffic view of one intersection.
type IntersectionState struct {
	ID                        string   `json:"intersection_id" pkl:"id"`
	Lanes                     []string `json:"related_lanes" pkl:"lanes"`
	VehicleCount              int      `json:"total_vehicles" pkl:"vehicleCount"`
	WaitingVehicleCount       int      `json:"total_waiting_vehicles" pkl:"waitingVehicleCount"`
	CurrentPhase              int      `json:"current_phase" pkl:"currentPhase"`
	TotalVehiclesInSimulation int      `json:"total_vehicles_in_sim" pkl:"totalVehiclesInSimulation"`
}

// StateSnapshot maps every known intersection id to its state for one step.
type StateSnapshot map[string]IntersectionState

// PhaseAssignment maps intersection ids to the phase index to apply.
type PhaseAssignment map[string]int

// Covers reports whether the assignment holds exactly the given ids.
func (a PhaseAssignment) Covers(ids []string) bool {
	if len(a) != len(ids) {
		return false
	}
	for _, id := range ids {
		if _, ok := a[id]; !ok {
			return false
		}
	}
	return true
}

// Uniform builds an assignment giving every id the same phase.
func Uniform(ids []string, phase int) PhaseAssignment {
	a := make(PhaseAssignment, len(ids))
	for _, id := range ids {
		a[id] = phase
	}
	return a
}
