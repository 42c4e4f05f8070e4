package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// Actions accepted in the invocation payload.
const (
	actionCleanup   = "cleanup"
	actionRetry     = "retry"
	actionScheduled = "scheduled"
	actionSync      = "sync"
)

// Request is the Lambda invocation payload. An empty action is a scheduled invocation.
type Request struct {
	Action string `json:"action"`
}

// Response summarizes what the invocation did.
type Response struct {
	Action         string       `json:"action"`
	Error          string       `json:"error,omitempty"`
	Message        string       `json:"message"`
	Outcome        sync.Outcome `json:"outcome,omitempty"`
	Removed        int          `json:"removed,omitempty"`
	RunID          string       `json:"run_id,omitempty"`
	Success        bool         `json:"success"`
	TotalFailed    int          `json:"total_failed"`
	TotalProcessed int          `json:"total_processed"`
	TotalSuccess   int          `json:"total_success"`
}

// tracker is the part of the sync tracker the handler drives.
type tracker interface {
	RetryFailedRun(ctx context.Context) (*sync.RunResult, error)
	StartRun(ctx context.Context) (*sync.RunResult, error)
}

// ticker starts scheduled runs when they are due.
type ticker interface {
	Tick(ctx context.Context) (*sync.RunResult, error)
}

type handler struct {
	audit   *audit.Trail
	logger  *slog.Logger
	runner  ticker
	tracker tracker
}

func (h *handler) handle(ctx context.Context, req Request) (*Response, error) {
	action := req.Action
	if action == "" {
		action = actionScheduled
	}

	h.logger.InfoContext(ctx, "invocation started", "action", action)

	var (
		result *sync.RunResult
		err    error
	)
	switch action {
	case actionSync:
		result, err = h.tracker.StartRun(ctx)
	case actionRetry:
		result, err = h.tracker.RetryFailedRun(ctx)
	case actionScheduled:
		result, err = h.runner.Tick(ctx)
		if err == nil && result == nil {
			return &Response{Action: action, Message: "No sync due", Success: true}, nil
		}
	case actionCleanup:
		return h.cleanup(ctx)
	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", action, err)
	}

	h.logger.InfoContext(ctx, "invocation complete",
		"action", action,
		"outcome", result.Outcome,
		"processed", result.TotalProcessed,
		"succeeded", result.TotalSuccess,
		"failed", result.TotalFailed,
	)

	resp := &Response{
		Action:         action,
		Message:        result.Message,
		Outcome:        result.Outcome,
		RunID:          result.RunID,
		Success:        result.Success,
		TotalFailed:    result.TotalFailed,
		TotalProcessed: result.TotalProcessed,
		TotalSuccess:   result.TotalSuccess,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp, nil
}

func (h *handler) cleanup(ctx context.Context) (*Response, error) {
	if h.audit == nil {
		return &Response{Action: actionCleanup, Message: "Audit trail disabled", Success: true}, nil
	}

	removed, err := h.audit.Cleanup(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleaning up audit trail: %w", err)
	}

	return &Response{
		Action:  actionCleanup,
		Message: fmt.Sprintf("Removed %d audit entries", removed),
		Removed: removed,
		Success: true,
	}, nil
}
