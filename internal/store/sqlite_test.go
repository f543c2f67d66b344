package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/script"
)

func openTestStore(t *testing.T) DocumentStore {
	t.Helper()
	log := logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	docs, err := OpenSQLite(":memory:", log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })
	return docs
}

func sampleDocument(id string) script.Document {
	return script.Document{
		ID: id,
		Scenes: []script.Scene{
			{SceneID: "scene_1", Time: "00:00-00:15", Script: "Opening hook", Visual: "Title card", Voiceover: true},
			{SceneID: "scene_2", Time: "00:15-00:45", Script: "Main content", Visual: "B-roll", Voiceover: true},
		},
		Metadata: script.Metadata{
			Title:          "Coffee Brewing Basics",
			Duration:       "00:45",
			TargetAudience: "beginners",
			Tone:           "casual",
			Style:          "talking head",
		},
	}
}

func TestInsertAndFind(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	id, err := docs.Insert(ctx, sampleDocument("doc-1"))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if id != "doc-1" {
		t.Fatalf("expected given id to be kept, got %s", id)
	}

	found, err := docs.Find(ctx, "doc-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(found.Scenes) != 2 || found.Metadata.Title != "Coffee Brewing Basics" {
		t.Fatalf("unexpected document %+v", found)
	}
	if found.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set on insert")
	}
}

func TestInsertAssignsID(t *testing.T) {
	docs := openTestStore(t)

	id, err := docs.Insert(context.Background(), sampleDocument(""))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected an assigned id")
	}
}

func TestFindMissing(t *testing.T) {
	docs := openTestStore(t)

	_, err := docs.Find(context.Background(), "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAppliesPatch(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	if _, err := docs.Insert(ctx, sampleDocument("doc-1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	newScenes := []script.Scene{
		{SceneID: "scene_1", Time: "00:00-00:30", Script: "Rewritten opening", Visual: "New visual", Voiceover: false},
	}
	updated, err := docs.Update(ctx, "doc-1", script.Patch{Scenes: newScenes})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated {
		t.Fatal("expected update to report success")
	}

	found, err := docs.Find(ctx, "doc-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(found.Scenes) != 1 || found.Scenes[0].Script != "Rewritten opening" {
		t.Fatalf("patch not applied: %+v", found.Scenes)
	}
	// Untouched fields survive.
	if found.Metadata.Title != "Coffee Brewing Basics" {
		t.Fatalf("metadata should be untouched, got %+v", found.Metadata)
	}
	if found.UpdatedAt == nil || found.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be set")
	}
}

func TestUpdateMissing(t *testing.T) {
	docs := openTestStore(t)

	updated, err := docs.Update(context.Background(), "missing", script.Patch{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated {
		t.Fatal("expected update of a missing document to report false")
	}
}

func TestDelete(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	if _, err := docs.Insert(ctx, sampleDocument("doc-1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	deleted, err := docs.Delete(ctx, "doc-1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report success")
	}
	if _, err := docs.Find(ctx, "doc-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	deleted, err = docs.Delete(ctx, "doc-1")
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if deleted {
		t.Fatal("expected second delete to report false")
	}
}

func TestListPaginationAndSearch(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, title := range []string{"Coffee Guide", "Tea Guide", "Coffee Advanced"} {
		doc := sampleDocument("")
		doc.Metadata.Title = title
		doc.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if _, err := docs.Insert(ctx, doc); err != nil {
			t.Fatalf("insert %s failed: %v", title, err)
		}
	}

	all, err := docs.List(ctx, "", 0, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(all))
	}
	// Newest first.
	if all[0].Metadata.Title != "Coffee Advanced" {
		t.Fatalf("expected newest document first, got %s", all[0].Metadata.Title)
	}

	page, err := docs.List(ctx, "", 1, 1)
	if err != nil {
		t.Fatalf("list page failed: %v", err)
	}
	if len(page) != 1 || page[0].Metadata.Title != "Tea Guide" {
		t.Fatalf("unexpected page %+v", page)
	}

	coffee, err := docs.List(ctx, "Coffee", 0, 10)
	if err != nil {
		t.Fatalf("list search failed: %v", err)
	}
	if len(coffee) != 2 {
		t.Fatalf("expected 2 coffee documents, got %d", len(coffee))
	}
}
