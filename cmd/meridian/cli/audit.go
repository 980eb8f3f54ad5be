package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/meridian-pos/meridian-pos/internal/audit"
)

// AuditOpsCLI exposes the void workflow and timeline inspection for
// operators working outside the terminals.
type AuditOpsCLI struct {
	service *audit.Service
}

// NewAuditOpsCLI constructs the helper around a wired audit service.
func NewAuditOpsCLI(service *audit.Service) *AuditOpsCLI {
	return &AuditOpsCLI{service: service}
}

// RequestVoid opens a pending void request for the subject.
func (c *AuditOpsCLI) RequestVoid(ctx context.Context, subjectRef string, actorID int64) error {
	if c == nil || c.service == nil {
		return errors.New("audit cli: service not configured")
	}
	return c.service.RequestVoid(ctx, subjectRef, actorID)
}

// ApproveVoid approves the pending request. The approver must differ
// from the requester.
func (c *AuditOpsCLI) ApproveVoid(ctx context.Context, subjectRef string, actorID int64) error {
	if c == nil || c.service == nil {
		return errors.New("audit cli: service not configured")
	}
	return c.service.ApproveVoid(ctx, subjectRef, actorID)
}

// RejectVoid declines the pending request, returning the subject to ACTIVE.
func (c *AuditOpsCLI) RejectVoid(ctx context.Context, subjectRef string, actorID int64) error {
	if c == nil || c.service == nil {
		return errors.New("audit cli: service not configured")
	}
	return c.service.RejectVoid(ctx, subjectRef, actorID)
}

// PrintTimeline writes one page of the filtered audit timeline.
func (c *AuditOpsCLI) PrintTimeline(ctx context.Context, out io.Writer, filters audit.TimelineFilters) error {
	if c == nil || c.service == nil {
		return errors.New("audit cli: service not configured")
	}
	result, err := c.service.Timeline(ctx, filters)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAT\tSUBJECT\tACTION\tACTOR")
	for _, entry := range result.Rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
			entry.ID, entry.At.Format("2006-01-02 15:04:05"), entry.SubjectRef, entry.Action, entry.ActorID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if result.Paging.HasNext {
		fmt.Fprintf(out, "more entries on page %d\n", result.Paging.Page+1)
	}
	return nil
}
