// Package export materialises the mirror's active records into a
// git-friendly directory tree, one JSON document per (slug, site) pair.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"wikimirror/app/internal/mirror"
)

// Options controls one export pass.
type Options struct {
	// Dir is the root of the snapshot tree.
	Dir string

	// Prune removes .json artifacts under Dir that no longer correspond to
	// an active record. Off by default: stale artifacts from before a
	// soft-delete are otherwise left in place.
	Prune bool
}

// Report summarises one export pass.
type Report struct {
	Written int
	Failed  int
	Pruned  int
}

// Document is the exported artifact payload. Field order here is the key
// order on disk; it must stay stable so re-exports diff cleanly.
type Document struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	HTML      string   `json:"html"`
	Tags      []string `json:"tags"`
	Author    string   `json:"author"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Rating    int      `json:"rating"`
	Site      string   `json:"_site"`
	Fullname  string   `json:"_fullname"`
}

// Exporter projects active page records onto the filesystem.
type Exporter struct {
	repo   mirror.Repository
	logger *logrus.Logger
}

// NewExporter wires the exporter with its repository.
func NewExporter(repo mirror.Repository, logger *logrus.Logger) (*Exporter, error) {
	if repo == nil {
		return nil, eris.New("repository is required")
	}

	return &Exporter{repo: repo, logger: logger}, nil
}

// Run exports every active record to <dir>/<slug>/<site>.json. A failed
// artifact is logged and counted; the pass continues with the next record.
func (e *Exporter) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Dir == "" {
		return nil, eris.New("export directory is required")
	}

	records, err := e.repo.ListActive(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "listing active pages for export")
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "creating export directory %s", opts.Dir)
	}

	report := &Report{}
	expected := make(map[string]struct{}, len(records))

	for _, record := range records {
		relPath := filepath.Join(Sanitize(record.Slug()), Sanitize(record.Site)+".json")
		expected[relPath] = struct{}{}

		if err := e.writeArtifact(ctx, opts.Dir, relPath, record); err != nil {
			e.logError(logrus.Fields{"site": record.Site, "fullname": record.Fullname, "path": relPath}, err, "writing export artifact")
			report.Failed++
			continue
		}
		report.Written++
	}

	if opts.Prune {
		pruned, err := e.prune(opts.Dir, expected)
		if err != nil {
			return report, err
		}
		report.Pruned = pruned
	}

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"written": report.Written,
			"failed":  report.Failed,
			"pruned":  report.Pruned,
			"dir":     opts.Dir,
		}).Info("export pass complete")
	}

	return report, nil
}

func (e *Exporter) writeArtifact(ctx context.Context, dir, relPath string, record mirror.PageRecord) error {
	tags, err := e.repo.TagsFor(ctx, record.Site, record.Fullname)
	if err != nil {
		return eris.Wrap(err, "loading tags")
	}
	if tags == nil {
		tags = []string{}
	}
	sort.Strings(tags)

	doc := Document{
		Title:     record.Title,
		Content:   record.Content,
		HTML:      record.HTML,
		Tags:      tags,
		Author:    record.CreatedBy,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
		Rating:    record.Rating,
		Site:      record.Site,
		Fullname:  record.Fullname,
	}

	payload, err := encodeDocument(doc)
	if err != nil {
		return eris.Wrap(err, "encoding document")
	}

	fullPath := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return eris.Wrap(err, "creating artifact directory")
	}

	if err := os.WriteFile(fullPath, payload, 0o644); err != nil {
		return eris.Wrap(err, "writing artifact file")
	}

	return nil
}

// encodeDocument renders the artifact bytes. Raw page content is kept
// verbatim, so HTML escaping stays off and the encoder's own indentation
// is the only formatting applied.
func encodeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// prune removes .json leaves that no active record claims, then clears any
// directories left empty.
func (e *Exporter) prune(dir string, expected map[string]struct{}) (int, error) {
	pruned := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if _, ok := expected[rel]; ok {
			return nil
		}

		if err := os.Remove(path); err != nil {
			return err
		}
		pruned++

		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{"path": rel}).Info("pruned stale artifact")
		}
		return nil
	})
	if err != nil {
		return pruned, eris.Wrap(err, "pruning stale artifacts")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return pruned, eris.Wrap(err, "re-reading export directory")
	}
	for _, entry := range entries {
		if entry.IsDir() {
			// Remove succeeds only when the directory emptied out.
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}

	return pruned, nil
}

func (e *Exporter) logError(fields logrus.Fields, err error, message string) {
	if e.logger == nil || err == nil {
		return
	}

	entry := e.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
