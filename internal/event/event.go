// Package event defines the broker payloads. Events are immutable line items;
// unknown JSON fields on inbound events are ignored.
package event

import (
	"fmt"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/jsoncodec"
	"github.com/ngqkhai/script-generator/internal/script"
)

// ContentCollected is the inbound event emitted by the collector service.
type ContentCollected struct {
	SourceName     string `json:"source_name"`
	CollectionID   string `json:"collection_id"`
	ScriptType     string `json:"script_type"`
	TargetAudience string `json:"target_audience"`
	Duration       int    `json:"duration"`
	Tone           string `json:"tone"`
	Style          string `json:"style"`
	Language       string `json:"language"`
	Content        string `json:"content"`
}

// Request maps the event onto a generation request.
func (e ContentCollected) Request() script.Request {
	return script.Request{
		ScriptType:       e.ScriptType,
		TargetAudience:   e.TargetAudience,
		DurationSeconds:  e.Duration,
		Tone:             e.Tone,
		StyleDescription: e.Style,
		Language:         e.Language,
		SourceData:       e.Content,
	}
}

// ScriptGenerated is the outbound event republished to downstream consumers.
type ScriptGenerated struct {
	JobID        string          `json:"job_id"`
	CollectionID string          `json:"collection_id"`
	SourceType   string          `json:"source_type"`
	SourceName   string          `json:"source_name"`
	Script       script.Document `json:"script"`
}

// DecodeContentCollected parses an inbound payload. Failures wrap
// ErrMalformedEvent so the gateway can ack-and-drop them.
func DecodeContentCollected(payload []byte) (ContentCollected, error) {
	var evt ContentCollected
	if err := jsoncodec.Unmarshal(payload, &evt); err != nil {
		return ContentCollected{}, fmt.Errorf("%w: %v", errs.ErrMalformedEvent, err)
	}
	return evt, nil
}
