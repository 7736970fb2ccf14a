package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"wikimirror/app/internal/db"
	"wikimirror/app/internal/mirror"
)

func TestNewExporterRequiresRepository(t *testing.T) {
	t.Parallel()

	if _, err := NewExporter(nil, nil); err == nil {
		t.Fatalf("expected error when repository is nil")
	}
}

func TestRunExportsOnlyActiveRecords(t *testing.T) {
	t.Parallel()

	repo := setupStore(t)
	ctx := context.Background()

	active := &mirror.PageRecord{
		Site:      "scp-wiki",
		Fullname:  "scp-173",
		Title:     "SCP-173",
		CreatedBy: "Moto42",
		CreatedAt: "2008-06-22T17:00:00+00:00",
		UpdatedAt: "2025-01-01T00:00:00+00:00",
		Rating:    1000,
		Content:   "source text",
		HTML:      "<p>rendered</p>",
	}
	if err := repo.Upsert(ctx, active, []string{"scp", "euclid"}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	gone := &mirror.PageRecord{Site: "scp-wiki", Fullname: "scp-404", Revisions: 1}
	if err := repo.Upsert(ctx, gone, nil); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := repo.MarkDeleted(ctx, "scp-wiki", "scp-404", time.Now().UTC()); err != nil {
		t.Fatalf("MarkDeleted returned error: %v", err)
	}

	exporter := newTestExporter(t, repo)
	dir := t.TempDir()

	report, err := exporter.Run(ctx, Options{Dir: dir})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Written != 1 || report.Failed != 0 {
		t.Fatalf("expected exactly one artifact written, got %+v", report)
	}

	artifact := filepath.Join(dir, "scp-173", "scp-wiki.json")
	payload, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("reading artifact failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if doc["title"] != "SCP-173" || doc["_site"] != "scp-wiki" || doc["_fullname"] != "scp-173" {
		t.Fatalf("unexpected document fields: %v", doc)
	}
	if doc["author"] != "Moto42" {
		t.Fatalf("expected author from created_by, got %v", doc["author"])
	}

	if _, err := os.Stat(filepath.Join(dir, "scp-404")); !os.IsNotExist(err) {
		t.Fatalf("expected no artifact directory for the soft-deleted page")
	}
}

func TestRunIsByteDeterministic(t *testing.T) {
	t.Parallel()

	repo := setupStore(t)
	ctx := context.Background()

	page := &mirror.PageRecord{
		Site:     "scp-wiki",
		Fullname: "scp-682",
		Title:    "SCP-682",
		Content:  "источник <em>& more</em>",
		HTML:     "<p>hard to destroy</p>",
	}
	if err := repo.Upsert(ctx, page, []string{"keter", "reptile"}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	exporter := newTestExporter(t, repo)
	dir := t.TempDir()

	if _, err := exporter.Run(ctx, Options{Dir: dir}); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}

	artifact := filepath.Join(dir, "scp-682", "scp-wiki.json")
	first, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("reading artifact failed: %v", err)
	}

	if _, err := exporter.Run(ctx, Options{Dir: dir}); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	second, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("re-reading artifact failed: %v", err)
	}

	if string(first) != string(second) {
		t.Fatalf("expected byte-identical artifact across runs")
	}

	// HTML content must survive without encoder escaping.
	if doc := string(first); !json.Valid(first) || !containsAll(doc, "<em>", "источник") {
		t.Fatalf("expected raw content preserved in artifact, got %s", doc)
	}
}

func TestSameSlugAcrossSitesSharesDirectory(t *testing.T) {
	t.Parallel()

	repo := setupStore(t)
	ctx := context.Background()

	en := &mirror.PageRecord{Site: "scp-wiki", Fullname: "scp-173", Title: "EN"}
	jp := &mirror.PageRecord{Site: "scp-jp", Fullname: "scp-173", Title: "JP"}
	if err := repo.Upsert(ctx, en, nil); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := repo.Upsert(ctx, jp, nil); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	exporter := newTestExporter(t, repo)
	dir := t.TempDir()

	report, err := exporter.Run(ctx, Options{Dir: dir})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Written != 2 {
		t.Fatalf("expected two artifacts, got %+v", report)
	}

	for _, leaf := range []string{"scp-wiki.json", "scp-jp.json"} {
		if _, err := os.Stat(filepath.Join(dir, "scp-173", leaf)); err != nil {
			t.Fatalf("expected artifact %s under shared slug directory: %v", leaf, err)
		}
	}
}

func TestRunWithPruneRemovesStaleArtifacts(t *testing.T) {
	t.Parallel()

	repo := setupStore(t)
	ctx := context.Background()

	page := &mirror.PageRecord{Site: "scp-wiki", Fullname: "scp-105", Title: "SCP-105"}
	if err := repo.Upsert(ctx, page, nil); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	exporter := newTestExporter(t, repo)
	dir := t.TempDir()

	if _, err := exporter.Run(ctx, Options{Dir: dir}); err != nil {
		t.Fatalf("initial Run returned error: %v", err)
	}

	if err := repo.MarkDeleted(ctx, "scp-wiki", "scp-105", time.Now().UTC()); err != nil {
		t.Fatalf("MarkDeleted returned error: %v", err)
	}

	// Without prune the stale artifact stays behind.
	if _, err := exporter.Run(ctx, Options{Dir: dir}); err != nil {
		t.Fatalf("Run without prune returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "scp-105", "scp-wiki.json")); err != nil {
		t.Fatalf("expected stale artifact untouched without prune: %v", err)
	}

	report, err := exporter.Run(ctx, Options{Dir: dir, Prune: true})
	if err != nil {
		t.Fatalf("Run with prune returned error: %v", err)
	}
	if report.Pruned != 1 {
		t.Fatalf("expected one pruned artifact, got %+v", report)
	}

	if _, err := os.Stat(filepath.Join(dir, "scp-105")); !os.IsNotExist(err) {
		t.Fatalf("expected emptied slug directory removed after prune")
	}
}

func TestRunCountsFailedArtifactAndContinues(t *testing.T) {
	t.Parallel()

	repo := setupStore(t)
	ctx := context.Background()

	blocked := &mirror.PageRecord{Site: "scp-wiki", Fullname: "scp-001", Title: "SCP-001"}
	healthy := &mirror.PageRecord{Site: "scp-wiki", Fullname: "scp-002", Title: "SCP-002"}
	if err := repo.Upsert(ctx, blocked, nil); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := repo.Upsert(ctx, healthy, nil); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	exporter := newTestExporter(t, repo)
	dir := t.TempDir()

	// A regular file where the slug directory should go makes that one
	// artifact unwritable without touching the rest of the tree.
	if err := os.WriteFile(filepath.Join(dir, "scp-001"), []byte("in the way"), 0o644); err != nil {
		t.Fatalf("planting blocking file failed: %v", err)
	}

	report, err := exporter.Run(ctx, Options{Dir: dir})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Failed != 1 || report.Written != 1 {
		t.Fatalf("expected one failure and one write, got %+v", report)
	}

	if _, err := os.Stat(filepath.Join(dir, "scp-002", "scp-wiki.json")); err != nil {
		t.Fatalf("expected healthy artifact written despite the failure: %v", err)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func setupStore(t *testing.T) *mirror.GormRepository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mirror.db")
	conn, err := db.Open(db.Options{Path: path})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}

	t.Cleanup(func() {
		if closeErr := db.Close(conn); closeErr != nil {
			t.Fatalf("closing database failed: %v", closeErr)
		}
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if err := mirror.Migrate(context.Background(), conn, logger); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	repo, err := mirror.NewRepository(conn, logger)
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}

	return repo
}

func newTestExporter(t *testing.T, repo mirror.Repository) *Exporter {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	exporter, err := NewExporter(repo, logger)
	if err != nil {
		t.Fatalf("NewExporter returned error: %v", err)
	}

	return exporter
}
