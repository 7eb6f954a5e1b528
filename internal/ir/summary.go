package ir

// RunSummary is the final report of a control run.
type RunSummary struct {
	RunID              string `json:"run_id" pkl:"runId"`
	TotalSteps         int    `json:"total_steps" pkl:"totalSteps"`
	StepsAdvanced      int    `json:"steps_advanced" pkl:"stepsAdvanced"`
	FinalVehicleCount  int    `json:"final_vehicle_count" pkl:"finalVehicleCount"`
	DecisionRequests   int    `json:"decision_requests" pkl:"decisionRequests"`
	DecisionFallbacks  int    `json:"decision_fallbacks" pkl:"decisionFallbacks"`
	FilledPhases       int    `json:"filled_phases" pkl:"filledPhases"`
	PhaseApplyFailures int    `json:"phase_apply_failures" pkl:"phaseApplyFailures"`
	StepFailures       int    `json:"step_failures" pkl:"stepFailures"`
	AdvanceFailures    int    `json:"advance_failures" pkl:"advanceFailures"`
	StartedAt          string `json:"started_at" pkl:"startedAt"`
	FinishedAt         string `json:"finished_at" pkl:"finishedAt"`
}
