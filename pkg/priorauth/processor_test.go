package priorauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/server"
	"github.com/openpriorauth/a4a-go/pkg/stores"
)

func newAgentCore(t *testing.T, processor *Processor) *server.Core {
	t.Helper()

	store := stores.NewInMemoryTaskStore()
	t.Cleanup(store.Close)

	core := server.NewCore(a2a.AgentCard{Name: "prior-auth-agent"}, store, processor)
	t.Cleanup(core.Close)

	return core
}

func waitForState(t *testing.T, core *server.Core, id string, state a2a.TaskState) *a2a.Task {
	t.Helper()

	var task *a2a.Task

	require.Eventually(t, func() bool {
		snapshot, rpcErr := core.GetTask(context.Background(), id, nil)
		if rpcErr != nil {
			return false
		}
		task = snapshot
		return snapshot.Status.State == state
	}, 2*time.Second, 10*time.Millisecond, "task never reached %s", state)

	return task
}

func userMessage(text string) a2a.Message {
	return *a2a.NewTextMessage(a2a.RoleUser, text)
}

func TestCanHandleClaimsCoveredTreatments(t *testing.T) {
	p := NewProcessor()

	assert.True(t, p.CanHandle(a2a.TaskSendParams{
		Message: userMessage("Please authorize an MRI for low back pain"),
	}))
	assert.False(t, p.CanHandle(a2a.TaskSendParams{
		Message: userMessage("Schedule a follow-up appointment"),
	}))
}

func TestBareRequestPausesListingAllCriteria(t *testing.T) {
	core := newAgentCore(t, NewProcessor())

	task, rpcErr := core.SendTask(context.Background(), a2a.TaskSendParams{
		Message: userMessage("Please authorize an MRI for low back pain"),
	}, nil)
	require.Nil(t, rpcErr)

	paused := waitForState(t, core, task.ID, a2a.TaskStateInputReq)

	require.NotNil(t, paused.Status.Message)
	question := paused.Status.Message.String()

	assert.Contains(t, question, "Additional information is required")
	assert.Contains(t, question, "duration of symptoms (six weeks or more)")
	assert.Contains(t, question, "failed conservative treatment")
	assert.Contains(t, question, "red flag evaluation")
}

func TestResumeWithFullEvidenceApproves(t *testing.T) {
	core := newAgentCore(t, NewProcessor())

	task, rpcErr := core.SendTask(context.Background(), a2a.TaskSendParams{
		Message: userMessage("Requesting an MRI of the lumbar spine"),
	}, nil)
	require.Nil(t, rpcErr)

	waitForState(t, core, task.ID, a2a.TaskStateInputReq)

	_, rpcErr = core.SendTask(context.Background(), a2a.TaskSendParams{
		ID: task.ID,
		Message: userMessage(
			"Symptoms have persisted for 8 weeks. The patient failed physical therapy and NSAIDs. Red flags were evaluated and none are present."),
	}, nil)
	require.Nil(t, rpcErr)

	final := waitForState(t, core, task.ID, a2a.TaskStateCompleted)

	require.Len(t, final.Artifacts, 1)
	artifact := final.Artifacts[0]
	require.NotNil(t, artifact.Name)
	assert.Equal(t, "prior-auth-approval", *artifact.Name)

	// The approval carries both a human-readable part and the structured
	// record with the authorization number.
	require.Len(t, artifact.Parts, 2)
	assert.Equal(t, a2a.PartTypeText, artifact.Parts[0].Type)
	assert.Contains(t, artifact.Parts[0].Text, "PA-")

	require.NotNil(t, artifact.Parts[1].Data)
	approvalID, ok := artifact.Parts[1].Data["approvalId"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(approvalID, "PA-"))

	require.NotNil(t, final.Status.Message)
	assert.Contains(t, final.Status.Message.String(), approvalID)
}

func TestEvidenceAccumulatesAcrossPauses(t *testing.T) {
	core := newAgentCore(t, NewProcessor())

	task, rpcErr := core.SendTask(context.Background(), a2a.TaskSendParams{
		Message: userMessage("MRI for back pain, symptoms ongoing for 8 weeks"),
	}, nil)
	require.Nil(t, rpcErr)

	paused := waitForState(t, core, task.ID, a2a.TaskStateInputReq)

	// Duration was evidenced up front, so the question only lists the
	// other two criteria.
	question := paused.Status.Message.String()
	assert.NotContains(t, question, "duration of symptoms")
	assert.Contains(t, question, "failed conservative treatment")
	assert.Contains(t, question, "red flag evaluation")

	// The reply supplies one more criterion; the earlier evidence must
	// survive the pause.
	_, rpcErr = core.SendTask(context.Background(), a2a.TaskSendParams{
		ID:      task.ID,
		Message: userMessage("Failed physical therapy and chiropractic care."),
	}, nil)
	require.Nil(t, rpcErr)

	paused = waitForState(t, core, task.ID, a2a.TaskStateInputReq)
	question = paused.Status.Message.String()
	assert.NotContains(t, question, "duration of symptoms")
	assert.NotContains(t, question, "failed conservative treatment")
	assert.Contains(t, question, "red flag evaluation")

	_, rpcErr = core.SendTask(context.Background(), a2a.TaskSendParams{
		ID:      task.ID,
		Message: userMessage("Red flags were assessed, no neurologic deficit."),
	}, nil)
	require.Nil(t, rpcErr)

	waitForState(t, core, task.ID, a2a.TaskStateCompleted)
}

func TestInternalStateStaysOffTheWire(t *testing.T) {
	core := newAgentCore(t, NewProcessor())

	task, rpcErr := core.SendTask(context.Background(), a2a.TaskSendParams{
		Message: userMessage("Please authorize an MRI"),
	}, nil)
	require.Nil(t, rpcErr)

	paused := waitForState(t, core, task.ID, a2a.TaskStateInputReq)

	// Continuation data lives in internal state only; the served snapshot
	// must not leak it.
	assert.Nil(t, paused.InternalState)
}

func TestRequireAuthFailsUnauthenticatedCallers(t *testing.T) {
	p := NewProcessor()
	p.RequireAuth = true

	core := newAgentCore(t, p)

	task, rpcErr := core.SendTask(context.Background(), a2a.TaskSendParams{
		Message: userMessage("Please authorize an MRI"),
	}, nil)
	require.Nil(t, rpcErr)

	final := waitForState(t, core, task.ID, a2a.TaskStateFailed)
	require.NotNil(t, final.Status.Message)
	assert.Contains(t, final.Status.Message.String(), "authenticated")
}

func TestStartWithoutPolicyMatchErrors(t *testing.T) {
	store := stores.NewInMemoryTaskStore()
	t.Cleanup(store.Close)

	task := a2a.NewTask("")
	require.Nil(t, store.Create(context.Background(), task))

	updater := server.NewTaskUpdater(store, task.ID)

	err := NewProcessor().Start(context.Background(), a2a.TaskSendParams{
		Message: userMessage("Schedule a follow-up appointment"),
	}, updater, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no policy")
}

func TestStrayResumeReissuesPendingQuestion(t *testing.T) {
	store := stores.NewInMemoryTaskStore()
	t.Cleanup(store.Close)

	task := a2a.NewTask("")
	require.Nil(t, store.Create(context.Background(), task))

	updater := server.NewTaskUpdater(store, task.ID)
	require.Nil(t, updater.UpdateStatus(context.Background(), a2a.TaskStateWorking,
		a2a.NewTextMessage(a2a.RoleAgent, "still evaluating")))

	snapshot, rpcErr := store.Get(context.Background(), task.ID)
	require.Nil(t, rpcErr)

	err := NewProcessor().Resume(context.Background(), *snapshot,
		userMessage("any update?"), updater, nil)
	require.NoError(t, err)

	after, rpcErr := store.Get(context.Background(), task.ID)
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.TaskStateInputReq, after.Status.State)
	require.NotNil(t, after.Status.Message)
	assert.Contains(t, after.Status.Message.String(), "still evaluating")
}
