// Package script holds the video-script domain model shared by the generation
// backend, the document store, and the broker events.
package script

import "time"

// Scene is a single timed segment of a script.
type Scene struct {
	SceneID   string `json:"scene_id"`
	Time      string `json:"time"` // "MM:SS-MM:SS"
	Script    string `json:"script"`
	Visual    string `json:"visual"`
	Voiceover bool   `json:"voiceover"`
}

// Metadata describes the script as a whole.
type Metadata struct {
	Title          string `json:"title"`
	Duration       string `json:"duration"` // "MM:SS"
	TargetAudience string `json:"target_audience"`
	Tone           string `json:"tone"`
	Style          string `json:"style"`
}

// Document is a complete generated script as persisted in the store.
type Document struct {
	ID        string     `json:"id,omitempty"`
	Scenes    []Scene    `json:"scenes"`
	Metadata  Metadata   `json:"metadata"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Request carries the generation parameters. Every field is optional; the
// prompt builder only emits the ones that are set.
type Request struct {
	ScriptType       string `json:"script_type,omitempty"`
	TargetAudience   string `json:"target_audience,omitempty"`
	DurationSeconds  int    `json:"duration_seconds,omitempty"`
	Tone             string `json:"tone,omitempty"`
	StyleDescription string `json:"style_description,omitempty"`
	Language         string `json:"language,omitempty"`
	SourceData       string `json:"source_data,omitempty"`
}

// Patch holds the mutable fields of a stored document. Nil fields are left
// untouched by Update.
type Patch struct {
	Scenes   []Scene   `json:"scenes,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}
