package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

// Workflow inputs, matching the workflow_dispatch inputs of the export workflow.
const (
	InputTables   = "tables"
	InputStepType = "stepType"
)

var ErrWorkflowDisabled = errors.New("workflow is not active")

// Target identifies the workflow to dispatch.
type Target struct {
	Owner    string
	Repo     string
	Workflow string // file name, e.g. welcome-home-export.yml
	Ref      string
}

// ParseTarget builds a Target from an OWNER/REPO string.
func ParseTarget(repo, workflow, ref string) (Target, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Target{}, fmt.Errorf("invalid dispatch repo %q: expected OWNER/REPO", repo)
	}
	if workflow == "" {
		return Target{}, errors.New("dispatch workflow file is required")
	}
	if ref == "" {
		ref = "main"
	}
	return Target{Owner: owner, Repo: name, Workflow: workflow, Ref: ref}, nil
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s:%s@%s", t.Owner, t.Repo, t.Workflow, t.Ref)
}

// Inputs renders a selection as workflow_dispatch inputs. An empty table list
// means all tables, as on the CLI.
func Inputs(sel pipeline.Selection) map[string]any {
	step := sel.StepType
	if step == "" {
		step = pipeline.StepBoth
	}
	return map[string]any{
		InputTables:   sel.TablesArg(),
		InputStepType: string(step),
	}
}

// Trigger starts one workflow run for sel. It checks the workflow exists and
// is active first so a typo fails with a clear message instead of a 404.
func (c *Client) Trigger(ctx context.Context, t Target, sel pipeline.Selection) error {
	wf, _, err := c.GitHub.Actions.GetWorkflowByFileName(ctx, t.Owner, t.Repo, t.Workflow)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("workflow %s not found in %s/%s", t.Workflow, t.Owner, t.Repo)
		}
		return fmt.Errorf("get workflow %s: %w", t.Workflow, err)
	}
	if state := wf.GetState(); state != "" && state != "active" {
		return fmt.Errorf("%s: %w (state %s)", t, ErrWorkflowDisabled, state)
	}

	u := fmt.Sprintf("repos/%s/%s/actions/workflows/%s/dispatches", t.Owner, t.Repo, t.Workflow)
	req, err := c.GitHub.NewRequest(http.MethodPost, u, &github.CreateWorkflowDispatchEventRequest{
		Ref:    t.Ref,
		Inputs: Inputs(sel),
	})
	if err != nil {
		return err
	}
	if _, err := c.GitHub.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("dispatch %s: %w", t, err)
	}
	return nil
}
