package eval

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/fallback"
	"github.com/promptgate/promptgate/prompt"
	"github.com/promptgate/promptgate/store"
)

type fakeStore struct {
	mu      sync.Mutex
	version *store.PromptVersion
	inputs  []store.EvalInput
	runs    []store.EvalRun
	failRun bool
}

func (f *fakeStore) GetVersion(_ context.Context, versionID uint) (*store.PromptVersion, error) {
	if f.version == nil || f.version.ID != versionID {
		return nil, nil
	}
	return f.version, nil
}

func (f *fakeStore) ListEvalInputs(_ context.Context, promptID uint) ([]store.EvalInput, error) {
	var out []store.EvalInput
	for _, in := range f.inputs {
		if in.PromptID == promptID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateEvalRun(_ context.Context, run *store.EvalRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRun {
		return assertErr("insert failed")
	}
	run.ID = uint(len(f.runs) + 1)
	f.runs = append(f.runs, *run)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeExec struct {
	mu    sync.Mutex
	seen  []*llm.MaterializedRequest
	reply func(req *llm.MaterializedRequest) (*llm.ChatResponse, error)
}

func (f *fakeExec) Execute(_ context.Context, req *llm.MaterializedRequest) (*llm.ChatResponse, []fallback.Attempt, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	resp, err := f.reply(req)
	return resp, nil, err
}

func echoReply(req *llm.MaterializedRequest) (*llm.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &llm.ChatResponse{
		ID:      "resp",
		Model:   req.Model,
		Choices: []llm.Choice{{Message: &llm.Message{Role: llm.RoleAssistant, Content: "echo: " + last.Content}}},
	}, nil
}

func testVersion() *store.PromptVersion {
	return &store.PromptVersion{
		ID:             11,
		PromptID:       3,
		Number:         1,
		SystemTemplate: "Assist {{ persona }}.",
		PromptType:     string(prompt.TypeStatic),
		Model:          "gpt-4o",
		Provider:       string(llm.KindOpenAI),
	}
}

func TestExecuteRunProcessesInputsInOrder(t *testing.T) {
	st := &fakeStore{
		version: testVersion(),
		inputs: []store.EvalInput{
			{ID: 1, PromptID: 3, UserContent: "alpha", DisplayName: "a"},
			{ID: 2, PromptID: 3, UserContent: "beta", DisplayName: "b", SystemContext: `{"persona": "pilots"}`},
			{ID: 3, PromptID: 3, UserContent: "gamma", DisplayName: "c"},
		},
	}
	exec := &fakeExec{reply: echoReply}
	r := NewRunner(prompt.NewMaterializer(nil), exec, st, nil)

	res, err := r.ExecuteRun(context.Background(), 3, 11)
	require.NoError(t, err)
	assert.Len(t, res.RunID, 36)
	require.Len(t, res.Runs, 3)

	for i, want := range []string{"alpha", "beta", "gamma"} {
		assert.Equal(t, res.RunID, res.Runs[i].RunID)
		assert.Equal(t, uint(11), res.Runs[i].PromptVersionID)
		assert.Equal(t, uint(i+1), res.Runs[i].EvalInputID)
		assert.Equal(t, "echo: "+want, res.Runs[i].Output)
	}

	// The second input's system context reached the template.
	require.Len(t, exec.seen, 3)
	assert.True(t, strings.Contains(exec.seen[1].Messages[0].Content, "Assist pilots."))
	// Inputs without a context render with the default empty one.
	assert.True(t, strings.Contains(exec.seen[0].Messages[0].Content, "Assist ."))
}

func TestExecuteRunDropsFailedInputs(t *testing.T) {
	st := &fakeStore{
		version: testVersion(),
		inputs: []store.EvalInput{
			{ID: 1, PromptID: 3, UserContent: "ok-1"},
			{ID: 2, PromptID: 3, UserContent: "boom"},
			{ID: 3, PromptID: 3, UserContent: "ok-2"},
		},
	}
	exec := &fakeExec{reply: func(req *llm.MaterializedRequest) (*llm.ChatResponse, error) {
		if strings.Contains(req.Messages[1].Content, "boom") {
			return nil, llm.NewError(llm.ClassProviderUnavailable, "upstream down")
		}
		return echoReply(req)
	}}
	r := NewRunner(prompt.NewMaterializer(nil), exec, st, nil)

	res, err := r.ExecuteRun(context.Background(), 3, 11)
	require.NoError(t, err)
	require.Len(t, res.Runs, 2)
	assert.Equal(t, uint(1), res.Runs[0].EvalInputID)
	assert.Equal(t, uint(3), res.Runs[1].EvalInputID)
	assert.Len(t, st.runs, 2)
}

func TestExecuteRunUnknownVersion(t *testing.T) {
	st := &fakeStore{version: testVersion()}
	r := NewRunner(prompt.NewMaterializer(nil), &fakeExec{reply: echoReply}, st, nil)

	_, err := r.ExecuteRun(context.Background(), 3, 999)
	require.Error(t, err)
	assert.Equal(t, llm.ClassInvalidRequest, llm.ClassOf(err))
}

func TestExecuteRunVersionPromptMismatch(t *testing.T) {
	st := &fakeStore{version: testVersion()}
	r := NewRunner(prompt.NewMaterializer(nil), &fakeExec{reply: echoReply}, st, nil)

	_, err := r.ExecuteRun(context.Background(), 99, 11)
	require.Error(t, err)
	assert.Equal(t, llm.ClassInvalidRequest, llm.ClassOf(err))
}

func TestExecuteRunPersistFailureAborts(t *testing.T) {
	st := &fakeStore{
		version: testVersion(),
		inputs: []store.EvalInput{
			{ID: 1, PromptID: 3, UserContent: "first"},
			{ID: 2, PromptID: 3, UserContent: "second"},
		},
		failRun: true,
	}
	exec := &fakeExec{reply: echoReply}
	r := NewRunner(prompt.NewMaterializer(nil), exec, st, nil)

	_, err := r.ExecuteRun(context.Background(), 3, 11)
	require.Error(t, err)
	assert.Equal(t, llm.ClassDbLogging, llm.ClassOf(err))
	// The run stopped at the first persistence failure.
	assert.Len(t, exec.seen, 1)
}

func TestExecuteRunEmptyInputs(t *testing.T) {
	st := &fakeStore{version: testVersion()}
	r := NewRunner(prompt.NewMaterializer(nil), &fakeExec{reply: echoReply}, st, nil)

	res, err := r.ExecuteRun(context.Background(), 3, 11)
	require.NoError(t, err)
	assert.Empty(t, res.Runs)
	assert.NotEmpty(t, res.RunID)
}
