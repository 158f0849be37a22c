//go:build unix

package conversation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/model"
	"phobos.org.uk/agentbridge/internal/process"
	"phobos.org.uk/agentbridge/internal/registry"
	"phobos.org.uk/agentbridge/internal/testutil"
	"phobos.org.uk/agentbridge/internal/tools"
)

func TestEndToEnd_ListFiles(t *testing.T) {
	t.Parallel()

	bin := testutil.ScriptedBackend(t, [][]string{
		{
			testutil.ToolUseLine("list_files", `{"path":"/tmp"}`),
			testutil.ResultLine("", 40, 10),
		},
		{
			testutil.TextLine("Done."),
			testutil.ResultLine("Done.", 60, 5),
		},
	})

	log := logging.Nop()
	reg := registry.New(log)
	_, err := reg.Spawn(process.LaunchConfig{SessionID: "e2e", Bin: bin, WorkDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	inv := tools.NewFuncInvoker()
	require.NoError(t, inv.Register("list_files", tools.Func(func(_ context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		if in.Path != "/tmp" {
			return "", assert.AnError
		}
		return "a.txt\nb.txt", nil
	})))

	o := New(model.New(reg, log), inv, Limits{MaxTurnRequests: 25, MaxTokensPerTurn: 200000}, WithLogger(log))
	res, err := o.Run(context.Background(), "e2e", "List files in /tmp")
	require.NoError(t, err)

	assert.Equal(t, StopEndTurn, res.StopReason)
	assert.Equal(t, 2, res.RoundTrips)
	assert.Equal(t, 115, res.Tokens)
	assert.Equal(t, 1, res.ToolCalls)

	require.Len(t, res.History, 4)
	assert.Equal(t, RoleUser, res.History[0].Role)
	assert.Equal(t, "List files in /tmp", res.History[0].Text)
	assert.Equal(t, RoleToolCall, res.History[1].Role)
	assert.Equal(t, "list_files", res.History[1].Call.Name)
	assert.Equal(t, RoleToolResult, res.History[2].Role)
	assert.Equal(t, tools.StatusSuccess, res.History[2].Result.Status)
	assert.Equal(t, "a.txt\nb.txt", res.History[2].Result.Output)
	assert.Equal(t, RoleAssistant, res.History[3].Role)
	assert.Equal(t, "Done.", res.History[3].Text)

	// Turn lifecycle is logged against the session.
	q := log.Query(logging.Query{SessionID: "e2e"})
	var messages []string
	for _, e := range q.Entries {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "turn started")
	assert.Contains(t, messages, "tool call")
	assert.Contains(t, messages, "turn finished")
}
