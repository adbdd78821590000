// Package server exposes the report service over HTTP/JSON, Server-Sent
// Events and a gRPC health endpoint.
package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alfredjeanlab/opreport/internal/events"
	"github.com/alfredjeanlab/opreport/internal/report"
)

// ReportServer serves aggregate reports and streams computation progress.
type ReportServer struct {
	service *report.Service
	hub     *Hub
	auth    *Authenticator
	origins []string
	logger  *slog.Logger
}

// Options configures a ReportServer.
type Options struct {
	Auth *Authenticator
	// CORSOrigins lists allowed browser origins. Empty disables CORS headers.
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewReportServer returns a ReportServer for svc. hub must be the hub that
// svc's publisher broadcasts to (see NewBroadcastPublisher).
func NewReportServer(svc *report.Service, hub *Hub, opts Options) *ReportServer {
	if hub == nil {
		hub = NewHub()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportServer{
		service: svc,
		hub:     hub,
		auth:    opts.Auth,
		origins: opts.CORSOrigins,
		logger:  logger,
	}
}

// BroadcastPublisher publishes to the event bus and mirrors every event to
// the SSE hub. Both are best-effort.
type BroadcastPublisher struct {
	next events.Publisher
	hub  *Hub
}

// NewBroadcastPublisher wraps next (nil means no bus) with an SSE fan-out.
func NewBroadcastPublisher(hub *Hub, next events.Publisher) *BroadcastPublisher {
	if next == nil {
		next = &events.NoopPublisher{}
	}
	return &BroadcastPublisher{next: next, hub: hub}
}

// Publish sends event to the bus, then to SSE clients. The bus error is
// returned after the broadcast so SSE clients see the event regardless.
func (p *BroadcastPublisher) Publish(ctx context.Context, topic string, event any) error {
	err := p.next.Publish(ctx, topic, event)
	payload, merr := json.Marshal(event)
	if merr != nil {
		slog.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", merr)
		return err
	}
	p.hub.broadcast(topic, events.RunIDOf(event), payload)
	return err
}

// Close closes the wrapped publisher.
func (p *BroadcastPublisher) Close() error { return p.next.Close() }
