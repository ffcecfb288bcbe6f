package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(`
name: worker-1
game_host_image: saiblo/host:latest
`))
	require.NoError(t, err)

	assert.Equal(t, "worker-1", cfg.Name)
	assert.Equal(t, DefaultAgentCPUs, cfg.AgentCPUs)
	assert.Equal(t, DefaultAgentMemLimit, cfg.AgentMemLimit)
	assert.Equal(t, int(DefaultJudgeTimeout.Seconds()), cfg.JudgeTimeout)
	assert.Equal(t, "saiblo-worker-image", cfg.ImageRepo)
	assert.Equal(t, int64(1e9), cfg.AgentNanoCPUs())
}

func TestLoad_MissingName(t *testing.T) {
	_, err := Load([]byte(`game_host_image: saiblo/host:latest`))
	require.Error(t, err)
}

func TestLoad_MissingGameHostImage(t *testing.T) {
	_, err := Load([]byte(`name: worker-1`))
	require.Error(t, err)
}

func TestLoad_InvalidMemLimit(t *testing.T) {
	_, err := Load([]byte(`
name: worker-1
game_host_image: saiblo/host:latest
agent_mem_limit: "not-a-size"
`))
	require.Error(t, err)
}

func TestLoad_OverridesRespected(t *testing.T) {
	cfg, err := Load([]byte(`
name: worker-1
game_host_image: saiblo/host:latest
agent_cpus: 2.5
agent_mem_limit: "2g"
judge_timeout: 30
`))
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.AgentCPUs)
	assert.Equal(t, int64(2.5e9), cfg.AgentNanoCPUs())
	assert.Equal(t, int64(2*1024*1024*1024), cfg.AgentMemLimitBytes())
	assert.Equal(t, 30, cfg.JudgeTimeout)
}
