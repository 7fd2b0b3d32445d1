// Package notify adapts request lifecycle events to delivery channels: the
// structured log, the live event stream, or both.
package notify

import (
	"context"
	"errors"

	"gatepass.org/internal/clearance"
	"gatepass.org/internal/obs"
	"gatepass.org/internal/stream"
)

// Log writes every lifecycle event as a structured log line.
type Log struct{}

func (Log) RequestCreated(ctx context.Context, r *clearance.Request) error {
	obs.LogRequest(map[string]any{
		"type":       "notify",
		"event":      stream.KindRequestCreated,
		"request_id": r.ID,
		"org_id":     r.OrganizationID,
		"status":     string(r.Status),
	})
	return nil
}

func (Log) StepChanged(ctx context.Context, r *clearance.Request, step clearance.RequestStep) error {
	obs.LogRequest(map[string]any{
		"type":        "notify",
		"event":       stream.KindStepChanged,
		"request_id":  r.ID,
		"org_id":      r.OrganizationID,
		"status":      string(r.Status),
		"step_id":     step.ID,
		"step_status": string(step.Status),
	})
	return nil
}

func (Log) CommentAdded(ctx context.Context, r *clearance.Request, c clearance.Comment) error {
	obs.LogRequest(map[string]any{
		"type":       "notify",
		"event":      stream.KindCommentAdded,
		"request_id": r.ID,
		"org_id":     r.OrganizationID,
		"author_id":  c.AuthorID,
	})
	return nil
}

// Stream publishes lifecycle events to the live SSE feed.
type Stream struct {
	S *stream.Stream
}

func (n Stream) RequestCreated(ctx context.Context, r *clearance.Request) error {
	n.S.Publish(stream.Event{
		Kind:           stream.KindRequestCreated,
		RequestID:      r.ID,
		OrganizationID: r.OrganizationID,
		Status:         string(r.Status),
		Timestamp:      r.RequestDate,
	})
	return nil
}

func (n Stream) StepChanged(ctx context.Context, r *clearance.Request, step clearance.RequestStep) error {
	evt := stream.Event{
		Kind:           stream.KindStepChanged,
		RequestID:      r.ID,
		OrganizationID: r.OrganizationID,
		Status:         string(r.Status),
		StepID:         step.ID,
		StepStatus:     string(step.Status),
	}
	if step.LastChangeDate != nil {
		evt.Timestamp = *step.LastChangeDate
	}
	n.S.Publish(evt)
	return nil
}

func (n Stream) CommentAdded(ctx context.Context, r *clearance.Request, c clearance.Comment) error {
	n.S.Publish(stream.Event{
		Kind:           stream.KindCommentAdded,
		RequestID:      r.ID,
		OrganizationID: r.OrganizationID,
		Status:         string(r.Status),
		Timestamp:      c.CreatedAt,
	})
	return nil
}

// Multi fans one event out to several notifiers, collecting their errors.
type Multi []clearance.Notifier

func (m Multi) RequestCreated(ctx context.Context, r *clearance.Request) error {
	var errs []error
	for _, n := range m {
		if err := n.RequestCreated(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) StepChanged(ctx context.Context, r *clearance.Request, step clearance.RequestStep) error {
	var errs []error
	for _, n := range m {
		if err := n.StepChanged(ctx, r, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) CommentAdded(ctx context.Context, r *clearance.Request, c clearance.Comment) error {
	var errs []error
	for _, n := range m {
		if err := n.CommentAdded(ctx, r, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
