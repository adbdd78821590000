// Package events defines the report lifecycle events and the bus they travel
// on. Every event is JSON encoded; on NATS the run id is also carried in the
// HeaderRunID message header so consumers can filter without decoding.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// Event topic constants
const (
	TopicReportProgress  = "opreport.report.progress"
	TopicReportGenerated = "opreport.report.generated"
	TopicReportFailed    = "opreport.report.failed"

	// TopicReportAll matches every report topic (NATS wildcard).
	TopicReportAll = "opreport.report.>"
)

// HeaderRunID is the NATS header holding the event's run id.
const HeaderRunID = "Opreport-Run-Id"

// ReportProgress is emitted at each stage of a report computation.
type ReportProgress struct {
	RunID     string    `json:"run_id"`
	ProjectID string    `json:"project_id"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	At        time.Time `json:"at"`
}

// ReportGenerated carries the summary of a finished computation.
type ReportGenerated struct {
	Run *model.ReportRun `json:"run"`
}

type ReportFailed struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
	Error     string `json:"error"`
	// Stale is set when a previously computed report is still being served.
	Stale bool `json:"stale,omitempty"`
}

// RunIDOf returns the run id of a report event, or "" for anything else.
func RunIDOf(event any) string {
	switch e := event.(type) {
	case ReportProgress:
		return e.RunID
	case ReportFailed:
		return e.RunID
	case ReportGenerated:
		if e.Run != nil {
			return e.Run.RunID
		}
	}
	return ""
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher drops every event. It stands in when no bus is configured.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (*NoopPublisher) Close() error { return nil }

// Message is one event as received from the bus.
type Message struct {
	Topic string
	RunID string
	Data  []byte
}

// Decode unmarshals the payload into the event type named by the topic.
// When the message carries no run id header it is taken from the payload.
func (m *Message) Decode() (any, error) {
	var (
		event any
		err   error
	)
	switch m.Topic {
	case TopicReportProgress:
		var e ReportProgress
		err = json.Unmarshal(m.Data, &e)
		event = e
	case TopicReportGenerated:
		var e ReportGenerated
		err = json.Unmarshal(m.Data, &e)
		event = e
	case TopicReportFailed:
		var e ReportFailed
		err = json.Unmarshal(m.Data, &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown topic %q", m.Topic)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", m.Topic, err)
	}
	if m.RunID == "" {
		m.RunID = RunIDOf(event)
	}
	return event, nil
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers messages matching pattern on the returned channel.
	// The returned cancel function unsubscribes and closes the channel.
	Subscribe(pattern string) (<-chan Message, func(), error)
	Close() error
}
