package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/pkg/api"
)

const pipelineYAML = `name: Pinger
steps:
  - id: ping
    type: agent_ping
    config:
      prompt: default topic
`

var idPattern = regexp.MustCompile(`\(([0-9a-f-]{36})\)`)

type cli struct {
	t      *testing.T
	config string
	dir    string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := "database_path: " + filepath.Join(dir, "contentflow.db") + "\n" +
		"queue_backend: sqlite\n" +
		"log:\n  level: error\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &cli{t: t, config: path, dir: dir}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func extractID(t *testing.T, out string) string {
	t.Helper()
	m := idPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestCLI_Workflow(t *testing.T) {
	c := newCLI(t)

	file := filepath.Join(c.dir, "pinger.yaml")
	require.NoError(t, os.WriteFile(file, []byte(pipelineYAML), 0o600))

	out := c.mustRun("template", "import", file)
	assert.Contains(t, out, `Imported template "Pinger"`)
	tplID := extractID(t, out)

	assert.Contains(t, c.mustRun("template", "list"), "Pinger")
	assert.Contains(t, c.mustRun("template", "show", tplID), `"type": "agent_ping"`)

	out = c.mustRun("instance", "create", "--template", tplID, "--name", "Hourly ping", "--interval", "hourly")
	instID := extractID(t, out)
	ref := api.StepRefID("ping", instID)
	assert.Contains(t, out, ref)

	var view struct {
		NextRunAt *string `json:"next_run_at"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("instance", "show", instID)), &view))
	assert.NotNil(t, view.NextRunAt)

	assert.Contains(t, c.mustRun("queue", "add", instID, ref, "Owl", "symbolism"), "Queued at position 0")
	assert.Contains(t, c.mustRun("queue", "list", instID, ref), "Owl symbolism")

	var run api.Run
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("instance", "run", "--now", instID)), &run))
	assert.Equal(t, api.RunCompleted, run.Status)
	assert.Equal(t, "Owl symbolism", run.ConsumedPrompts[ref])

	assert.Contains(t, c.mustRun("queue", "list", instID, ref), "Queue is empty.")
	assert.Contains(t, c.mustRun("runs", "list", "--instance", instID), "completed")
	assert.Contains(t, c.mustRun("runs", "show", run.ID), run.ID)
	assert.Contains(t, c.mustRun("runs", "problems"), "No problem instances.")

	assert.Contains(t, c.mustRun("instance", "run", instID), "Queued a run")
	assert.Contains(t, c.mustRun("instance", "schedule", instID, "--manual"), "is now manual")

	c.mustRun("queue", "add", instID, ref, "Raven meaning")
	assert.Contains(t, c.mustRun("queue", "clear", instID, ref), "Removed 1 prompts")
	assert.Contains(t, c.mustRun("queue", "validate", "--dry-run", instID, ref), `"dry_run": true`)
}

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("template", "show", "missing")
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = c.run("instance", "schedule", "x", "--interval", "hourly", "--cron", "* * * * *")
	assert.ErrorIs(t, err, ErrScheduleFlags)

	_, err = c.run("instance", "schedule", "x", "--at", "tomorrow")
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = c.run("template", "import", filepath.Join(c.dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = c.run("runs", "list", "--status", "bogus")
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestReadTemplateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o600))

	tf, err := readTemplateFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Pinger", tf.Name)
	require.Len(t, tf.Steps, 1)
	assert.Equal(t, api.StepTypeAgentPing, tf.Steps[0].Type)
	assert.Equal(t, "default topic", tf.Steps[0].Config["prompt"])

	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))
	_, err = readTemplateFile(path)
	assert.Error(t, err)
}
