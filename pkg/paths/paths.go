// Package paths centralizes the worker's on-disk layout, mirroring
// original_source/saiblo_worker/path_manager.py.
package paths

import "path/filepath"

// Layout is the base directory for the worker's persistent state. It
// defaults to "data" (relative to the working directory, as in the
// original), but tests and alternate deployments can point it elsewhere.
type Layout struct {
	BaseDir string
}

// DefaultLayout returns the layout rooted at "data", matching the original
// worker's hard-coded relative paths.
func DefaultLayout() Layout {
	return Layout{BaseDir: "data"}
}

// NewLayout roots the layout at the given base directory.
func NewLayout(baseDir string) Layout {
	return Layout{BaseDir: baseDir}
}

// AgentCodeDir is the directory holding fetched agent source tarballs.
func (l Layout) AgentCodeDir() string {
	return filepath.Join(l.BaseDir, "agent_code")
}

// AgentCodeTarball is the path to the tarball for a given code_id.
func (l Layout) AgentCodeTarball(codeID string) string {
	return filepath.Join(l.AgentCodeDir(), codeID+".tar")
}

// MatchReplayDir is the directory holding persisted match replays.
func (l Layout) MatchReplayDir() string {
	return filepath.Join(l.BaseDir, "match_replays")
}

// MatchReplayPath is the path to the replay blob for a given match_id.
func (l Layout) MatchReplayPath(matchID string) string {
	return filepath.Join(l.MatchReplayDir(), matchID+".dat")
}

// MatchResultDir is the directory holding persisted match results.
func (l Layout) MatchResultDir() string {
	return filepath.Join(l.BaseDir, "match_results")
}

// MatchResultPath is the path to the result JSON for a given match_id.
func (l Layout) MatchResultPath(matchID string) string {
	return filepath.Join(l.MatchResultDir(), matchID+".json")
}
