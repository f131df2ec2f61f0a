// Package hook adapts external commands to the governor's collaborator
// contracts. The tracker command is invoked as
//
//	<tracker_cmd> <verb> <args...>
//
// and must print a JSON document on stdout: an array of issues for
// list-issues, {"value": bool} for the predicate verbs, {"value": "name"}
// for workflow-strategy. The dispatch command is invoked as
//
//	<dispatch_cmd> <issue-id> <action>
//
// and signals failure through its exit code.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"governor/internal/domain"
)

// Tracker shells out to a configured tracker command.
type Tracker struct {
	Cmd string
}

// Dispatcher shells out to a configured dispatch command.
type Dispatcher struct {
	Cmd string
}

type boolReply struct {
	Value bool `json:"value"`
}

type stringReply struct {
	Value string `json:"value"`
}

func runHook(ctx context.Context, command string, args ...string) ([]byte, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("hook command not configured")
	}
	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", parts[0], strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", parts[0], strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

func (t Tracker) ListIssues(ctx context.Context, project string) ([]domain.Issue, error) {
	out, err := runHook(ctx, t.Cmd, "list-issues", project)
	if err != nil {
		return nil, err
	}
	var issues []domain.Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("list-issues output: %w", err)
	}
	return issues, nil
}

func (t Tracker) boolVerb(ctx context.Context, verb, issueID string) (bool, error) {
	out, err := runHook(ctx, t.Cmd, verb, issueID)
	if err != nil {
		return false, err
	}
	var reply boolReply
	if err := json.Unmarshal(out, &reply); err != nil {
		return false, fmt.Errorf("%s output: %w", verb, err)
	}
	return reply.Value, nil
}

func (t Tracker) HasActiveSession(ctx context.Context, issueID string) (bool, error) {
	return t.boolVerb(ctx, "has-active-session", issueID)
}

func (t Tracker) IsWithinCooldown(ctx context.Context, issueID string) (bool, error) {
	return t.boolVerb(ctx, "is-within-cooldown", issueID)
}

func (t Tracker) IsParentIssue(ctx context.Context, issueID string) (bool, error) {
	return t.boolVerb(ctx, "is-parent-issue", issueID)
}

func (t Tracker) GetWorkflowStrategy(ctx context.Context, issueID string) (string, error) {
	out, err := runHook(ctx, t.Cmd, "workflow-strategy", issueID)
	if err != nil {
		return "", err
	}
	var reply stringReply
	if err := json.Unmarshal(out, &reply); err != nil {
		return "", fmt.Errorf("workflow-strategy output: %w", err)
	}
	return reply.Value, nil
}

func (d Dispatcher) DispatchWork(ctx context.Context, issueID string, action domain.Action) error {
	_, err := runHook(ctx, d.Cmd, issueID, string(action))
	return err
}
