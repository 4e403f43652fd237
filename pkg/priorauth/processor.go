package priorauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/server"
)

const (
	stateKeyPolicy    = "policy"
	stateKeySatisfied = "satisfied"
)

/*
Processor evaluates prior authorization requests against abstracted
coverage policies.  A request is approved once every indication criterion
of the matched policy is evidenced somewhere in the conversation; until
then the task pauses and asks for the specific missing items by name.

The active policy and the evidence gathered so far are carried across the
pause in the task's internal state, never in the wire-visible record.
*/
type Processor struct {
	policies []Policy

	// RequireAuth makes an unauthenticated caller a terminal failure.
	// Off by default so unauthenticated demo setups still work.
	RequireAuth bool
}

func NewProcessor(policies ...Policy) *Processor {
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}

	return &Processor{policies: policies}
}

// CanHandle claims requests mentioning a treatment covered by any policy.
func (p *Processor) CanHandle(params a2a.TaskSendParams) bool {
	return p.match(params.Message.String()) != nil
}

func (p *Processor) Start(ctx context.Context, params a2a.TaskSendParams, updater *server.TaskUpdater, auth *server.AuthContext) error {
	if p.RequireAuth && auth == nil {
		// Record the refusal in the task history rather than rejecting at
		// the transport, so the audit trail survives.
		return updater.SignalCompletion(ctx, a2a.TaskStateFailed,
			a2a.NewTextMessage(a2a.RoleAgent, "Prior authorization requires an authenticated caller."))
	}

	text := params.Message.String()
	policy := p.match(text)

	if policy == nil {
		// CanHandle gates routing, so this only happens when the processor
		// is invoked directly.
		return fmt.Errorf("no policy covers this request")
	}

	if rpcErr := updater.UpdateStatus(ctx, a2a.TaskStateWorking, a2a.NewTextMessage(
		a2a.RoleAgent, fmt.Sprintf("Evaluating request against policy %q.", policy.Title))); rpcErr != nil {
		return rpcErr
	}

	satisfied := asSet(policy.Evaluate(text))

	return p.conclude(ctx, *policy, satisfied, updater)
}

func (p *Processor) Resume(ctx context.Context, task a2a.Task, message a2a.Message, updater *server.TaskUpdater, auth *server.AuthContext) error {
	if p.RequireAuth && auth == nil {
		return updater.SignalCompletion(ctx, a2a.TaskStateFailed,
			a2a.NewTextMessage(a2a.RoleAgent, "Prior authorization requires an authenticated caller."))
	}

	if task.Status.State != a2a.TaskStateInputReq {
		// Stray message: re-issue the pending question without rerunning
		// the evaluation.
		log.Warn("resume for a task that was not awaiting input",
			"task", task.ID, "state", task.Status.State)
		return updater.UpdateStatus(ctx, a2a.TaskStateInputReq, task.Status.Message)
	}

	internal, rpcErr := updater.InternalState(ctx)

	if rpcErr != nil {
		return rpcErr
	}

	policy := p.policyByID(stringFrom(internal, stateKeyPolicy))

	if policy == nil {
		return fmt.Errorf("continuation lost: no active policy for task %s", task.ID)
	}

	satisfied := asSet(stringsFrom(internal, stateKeySatisfied))

	for _, id := range policy.Evaluate(message.String()) {
		satisfied[id] = true
	}

	return p.conclude(ctx, *policy, satisfied, updater)
}

/*
conclude either approves the request or pauses it with the list of
criteria still missing.
*/
func (p *Processor) conclude(ctx context.Context, policy Policy, satisfied map[string]bool, updater *server.TaskUpdater) error {
	missing := policy.Missing(satisfied)

	if len(missing) == 0 {
		return p.approve(ctx, policy, satisfied, updater)
	}

	names := make([]string, 0, len(missing))

	for _, criterion := range missing {
		names = append(names, criterion.Name)
	}

	if rpcErr := updater.SetInternalState(ctx, map[string]any{
		stateKeyPolicy:    policy.ID,
		stateKeySatisfied: keys(satisfied),
	}); rpcErr != nil {
		return rpcErr
	}

	question := fmt.Sprintf(
		"Additional information is required before this request can be approved: %s.",
		strings.Join(names, "; "))

	log.Info("pausing for missing evidence", "task", updater.TaskID(), "missing", names)

	return updater.UpdateStatus(ctx, a2a.TaskStateInputReq,
		a2a.NewTextMessage(a2a.RoleAgent, question))
}

func (p *Processor) approve(ctx context.Context, policy Policy, satisfied map[string]bool, updater *server.TaskUpdater) error {
	approvalID := "PA-" + uuid.NewString()

	matched := make([]string, 0, len(policy.Criteria))

	for _, criterion := range policy.Criteria {
		if satisfied[criterion.ID] {
			matched = append(matched, criterion.Name)
		}
	}

	artifact := a2a.NewArtifact("prior-auth-approval",
		a2a.NewTextPart(fmt.Sprintf("Prior authorization %s approved under policy %q.", approvalID, policy.Title)),
		a2a.NewDataPart(map[string]any{
			"approvalId":  approvalID,
			"policyTitle": policy.Title,
			"criteria":    matched,
		}),
	)

	if rpcErr := updater.AddArtifact(ctx, artifact); rpcErr != nil {
		return rpcErr
	}

	log.Info("request approved", "task", updater.TaskID(), "approval", approvalID)

	return updater.SignalCompletion(ctx, a2a.TaskStateCompleted, a2a.NewTextMessage(
		a2a.RoleAgent, fmt.Sprintf("Approved. Your authorization number is %s.", approvalID)))
}

func (p *Processor) match(text string) *Policy {
	for i := range p.policies {
		if p.policies[i].Matches(text) {
			return &p.policies[i]
		}
	}
	return nil
}

func (p *Processor) policyByID(id string) *Policy {
	for i := range p.policies {
		if p.policies[i].ID == id {
			return &p.policies[i]
		}
	}
	return nil
}

func asSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func stringFrom(state map[string]any, key string) string {
	if v, ok := state[key].(string); ok {
		return v
	}
	return ""
}

func stringsFrom(state map[string]any, key string) []string {
	switch v := state[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
