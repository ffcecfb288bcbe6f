// Package model holds the worker's core domain types: the results produced
// by the build and judge engines, and the per-slot agent status vocabulary
// shared with the coordinator.
package model

// AgentStatus is the outcome of a single agent's participation in a match.
// Only OK, RE, CANCEL and UE are ever produced by this engine (see judge
// package); the rest are part of the wire vocabulary shared with the
// coordinator and kept for forward compatibility.
type AgentStatus string

const (
	StatusOK     AgentStatus = "OK"     // exited zero
	StatusRE     AgentStatus = "RE"     // runtime error, exited non-zero
	StatusTLE    AgentStatus = "TLE"    // time limit exceeded
	StatusMLE    AgentStatus = "MLE"    // memory limit exceeded
	StatusOLE    AgentStatus = "OLE"    // output limit exceeded
	StatusSTLE   AgentStatus = "STLE"   // single-turn time limit exceeded
	StatusEXIT   AgentStatus = "EXIT"   // host asked the agent to exit early
	StatusUE     AgentStatus = "UE"     // unknown/engine-wide error
	StatusCancel AgentStatus = "CANCEL" // no agent image was provided for the slot
	StatusIA     AgentStatus = "IA"     // illegal action
)

// BuildResult is the outcome of building an agent's source into an image.
// Image is non-empty iff the build succeeded; Message carries a diagnostic
// otherwise.
type BuildResult struct {
	CodeID  string `json:"code_id"`
	Image   string `json:"image,omitempty"`
	Message string `json:"message"`
}

// Succeeded reports whether the build produced a usable image.
func (r BuildResult) Succeeded() bool {
	return r.Image != ""
}

// AgentResult is a single agent's outcome within a judged match.
type AgentResult struct {
	ExitCode int         `json:"exit_code"`
	Score    float64     `json:"score"`
	Status   AgentStatus `json:"status"`
	Stderr   string      `json:"stderr"`
}

// CancelledAgentResult is the fixed result recorded for a slot that had no
// agent image (spec.md §4.3 step 6, §8 invariant 8).
func CancelledAgentResult() AgentResult {
	return AgentResult{ExitCode: 0, Score: 0, Status: StatusCancel, Stderr: ""}
}

// MatchResult is the outcome of judging a match. ReplayPath is non-empty iff
// the match produced a replay on disk; an empty ReplayPath signals failure
// even when AgentResults is non-empty (engine-wide failure path).
type MatchResult struct {
	MatchID      string        `json:"match_id"`
	AgentResults []AgentResult `json:"agent_results"`
	ErrorMessage string        `json:"error_message"`
	ReplayPath   string        `json:"replay_path,omitempty"`
	HostStderr   string        `json:"host_stderr"`
}

// Succeeded reports whether the match was judged to completion.
func (r MatchResult) Succeeded() bool {
	return r.ReplayPath != ""
}

// FailedMatchResult builds the engine-wide failure result described in
// spec.md §4.3 "Failure mapping": every slot reported as UE, no replay.
func FailedMatchResult(matchID string, slotCount int, err error, hostStderr string) MatchResult {
	results := make([]AgentResult, slotCount)
	for i := range results {
		results[i] = AgentResult{ExitCode: 0, Score: 0, Status: StatusUE, Stderr: ""}
	}
	return MatchResult{
		MatchID:      matchID,
		AgentResults: results,
		ErrorMessage: err.Error(),
		HostStderr:   hostStderr,
	}
}
