package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/jsoncodec"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/script"
)

const scriptJSON = `{
  "scenes": [
    {"scene_id": "scene1", "time": "00:00-00:15", "script": "Hook", "visual": "Title card", "voiceover": true},
    {"scene_id": "scene2", "time": "00:15-00:45", "script": "Body", "visual": "B-roll", "voiceover": true}
  ],
  "metadata": {"title": "Test Video", "duration": "00:45", "target_audience": "everyone", "tone": "casual", "style": "vlog"}
}`

func testLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func candidateResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
}

func TestParseScriptPlainJSON(t *testing.T) {
	doc, err := ParseScript(scriptJSON)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(doc.Scenes) != 2 || doc.Metadata.Title != "Test Video" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestParseScriptMarkdownFences(t *testing.T) {
	doc, err := ParseScript("```json\n" + scriptJSON + "\n```")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(doc.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(doc.Scenes))
	}
}

func TestParseScriptBraceWindowFallback(t *testing.T) {
	text := "Sure! Here is your script:\n" + scriptJSON + "\nLet me know if you need changes."
	doc, err := ParseScript(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(doc.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(doc.Scenes))
	}
}

func TestParseScriptNoJSON(t *testing.T) {
	_, err := ParseScript("I cannot generate that script.")
	if !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotBody, _ = io.ReadAll(r.Body)
		_ = jsoncodec.Encode(w, candidateResponse(scriptJSON))
	}))
	defer server.Close()

	client := NewClient(server.URL, "gemini-1.5-flash", "test-key", testLogger())
	doc, err := client.Generate(context.Background(), script.Request{
		ScriptType:      "educational",
		TargetAudience:  "beginners",
		DurationSeconds: 45,
		Tone:            "casual",
		SourceData:      "How to brew coffee",
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if gotPath != "/v1beta/models/gemini-1.5-flash:generateContent" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}

	var sent struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := jsoncodec.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if len(sent.Contents) != 1 || len(sent.Contents[0].Parts) != 1 {
		t.Fatalf("unexpected request shape %+v", sent)
	}

	if len(doc.Scenes) != 2 || doc.CreatedAt.IsZero() {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestGenerateBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "gemini-1.5-flash", "test-key", testLogger())
	_, err := client.Generate(context.Background(), script.Request{SourceData: "content"})
	if !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = jsoncodec.Encode(w, map[string]any{"candidates": []any{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "gemini-1.5-flash", "test-key", testLogger())
	_, err := client.Generate(context.Background(), script.Request{SourceData: "content"})
	if !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestGenerateContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, "gemini-1.5-flash", "test-key", testLogger())
	if _, err := client.Generate(ctx, script.Request{SourceData: "content"}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
