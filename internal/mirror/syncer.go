package mirror

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"wikimirror/app/internal/wikidot"
)

// Options controls how the syncer is initialised.
type Options struct {
	Client     wikidot.Client
	Repository Repository
	Logger     *logrus.Logger

	// RequestInterval is the minimum spacing between remote calls. Zero
	// disables throttling, which only makes sense in tests.
	RequestInterval time.Duration

	// BatchSize caps how many fullnames go into one metadata call. The
	// Wikidot API rejects batches larger than 10.
	BatchSize int
}

const defaultBatchSize = 10

// Syncer drives one reconciliation pass per site: enumerate, batch-fetch
// metadata, classify, fetch changed bodies, write. One throttle bucket is
// shared across every remote call the syncer makes, for all sites in a run.
type Syncer struct {
	client    wikidot.Client
	repo      Repository
	logger    *logrus.Logger
	bucket    *ratelimit.Bucket
	batchSize int
	now       func() time.Time
}

// SiteReport summarises one site's reconciliation pass.
type SiteReport struct {
	Site      string
	New       int
	Updated   int
	Unchanged int
	Gone      int
	Failed    int
	Skipped   bool
	Elapsed   time.Duration

	// Err is set when the pass aborted partway. Writes committed before the
	// abort remain valid; a re-run resumes from persisted state.
	Err error
}

// NewSyncer wires the sync driver with its dependencies.
func NewSyncer(opts Options) (*Syncer, error) {
	if opts.Client == nil {
		return nil, eris.New("wikidot client is required")
	}
	if opts.Repository == nil {
		return nil, eris.New("repository is required")
	}
	if opts.BatchSize < 0 {
		return nil, eris.New("batch size must not be negative")
	}

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}

	var bucket *ratelimit.Bucket
	if opts.RequestInterval > 0 {
		bucket = ratelimit.NewBucket(opts.RequestInterval, 1)
	}

	return &Syncer{
		client:    opts.Client,
		repo:      opts.Repository,
		logger:    opts.Logger,
		bucket:    bucket,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

// Sync runs one reconciliation pass per site, in the given order. A failing
// site is reported and the remaining sites still run; per-site outcomes are
// in the returned reports.
func (s *Syncer) Sync(ctx context.Context, sites []string) ([]SiteReport, error) {
	if len(sites) == 0 {
		return nil, eris.New("at least one site is required")
	}

	runID := uuid.NewString()
	s.log(logrus.InfoLevel, logrus.Fields{"run_id": runID, "sites": len(sites)}, "starting sync run")

	reports := make([]SiteReport, 0, len(sites))
	for _, site := range sites {
		report := s.SyncSite(ctx, site)
		reports = append(reports, *report)

		fields := logrus.Fields{
			"run_id":    runID,
			"site":      report.Site,
			"new":       report.New,
			"updated":   report.Updated,
			"unchanged": report.Unchanged,
			"gone":      report.Gone,
			"failed":    report.Failed,
			"elapsed":   report.Elapsed.String(),
		}
		switch {
		case report.Err != nil:
			s.log(logrus.ErrorLevel, withError(fields, report.Err), "site sync aborted")
		case report.Skipped:
			s.log(logrus.WarnLevel, fields, "site skipped")
		default:
			s.log(logrus.InfoLevel, fields, "site sync complete")
		}

		if ctx.Err() != nil {
			break
		}
	}

	s.log(logrus.InfoLevel, logrus.Fields{"run_id": runID}, "sync run finished")
	return reports, nil
}

// SyncSite runs one full reconciliation pass for a single site.
func (s *Syncer) SyncSite(ctx context.Context, site string) *SiteReport {
	started := s.now()
	report := &SiteReport{Site: site}
	defer func() {
		report.Elapsed = s.now().Sub(started)
	}()

	s.wait()
	fullnames, err := s.client.ListPages(ctx, site)
	if err != nil {
		if wikidot.IsForbidden(err) {
			s.log(logrus.WarnLevel, logrus.Fields{"site": site}, "api access forbidden for site, skipping")
			report.Skipped = true
			return report
		}
		report.Err = eris.Wrapf(err, "listing pages for site %s", site)
		return report
	}

	s.log(logrus.InfoLevel, logrus.Fields{"site": site, "pages": len(fullnames)}, "enumerated site pages")

	s.syncCategories(ctx, site)

	for start := 0; start < len(fullnames); start += s.batchSize {
		end := min(start+s.batchSize, len(fullnames))
		batch := fullnames[start:end]

		s.wait()
		metas, err := s.client.GetPagesMeta(ctx, site, batch)
		if err != nil {
			report.Err = eris.Wrapf(err, "fetching metadata batch for site %s", site)
			return report
		}

		for _, fullname := range batch {
			meta, ok := metas[fullname]
			if !ok {
				s.log(logrus.WarnLevel, logrus.Fields{"site": site, "fullname": fullname}, "metadata missing for enumerated page")
				report.Failed++
				continue
			}

			if err := s.reconcilePage(ctx, site, fullname, meta, report); err != nil {
				report.Err = err
				return report
			}
		}
	}

	return report
}

// reconcilePage classifies one page and applies the resulting state
// transition. Only a page-gone fault is recoverable here; any other remote
// error aborts the site pass via the returned error.
func (s *Syncer) reconcilePage(ctx context.Context, site, fullname string, meta wikidot.PageMeta, report *SiteReport) error {
	stored, err := s.repo.GetStoredMeta(ctx, site, fullname)
	if err != nil {
		s.log(logrus.ErrorLevel, withError(logrus.Fields{"site": site, "fullname": fullname}, err), "reading stored metadata")
		report.Failed++
		return nil
	}

	change := Classify(stored, meta)
	if change == ChangeUnchanged {
		report.Unchanged++
		return nil
	}

	s.wait()
	info, err := s.client.GetPage(ctx, site, fullname)
	if err != nil {
		switch {
		case wikidot.IsPageGone(err):
			if markErr := s.repo.MarkDeleted(ctx, site, fullname, s.now().UTC()); markErr != nil {
				s.log(logrus.ErrorLevel, withError(logrus.Fields{"site": site, "fullname": fullname}, markErr), "marking page deleted")
				report.Failed++
				return nil
			}
			s.log(logrus.InfoLevel, logrus.Fields{"site": site, "fullname": fullname}, "page gone remotely, soft-deleted")
			report.Gone++
			return nil
		case wikidot.IsForbidden(err):
			s.log(logrus.WarnLevel, logrus.Fields{"site": site, "fullname": fullname}, "page fetch forbidden, skipping")
			report.Failed++
			return nil
		default:
			return eris.Wrapf(err, "fetching page %s/%s", site, fullname)
		}
	}

	record := recordFromPage(site, fullname, info)

	// get_one does not reliably include tags; the metadata call is
	// authoritative for the tag set.
	if err := s.repo.Upsert(ctx, record, meta.Tags); err != nil {
		s.log(logrus.ErrorLevel, withError(logrus.Fields{"site": site, "fullname": fullname}, err), "persisting page")
		report.Failed++
		return nil
	}

	s.syncPagePosts(ctx, site, fullname)

	if change == ChangeNew {
		report.New++
	} else {
		report.Updated++
	}
	return nil
}

// syncCategories refreshes the site's category list. Categories are side
// data: a failure here is logged and the page pass continues.
func (s *Syncer) syncCategories(ctx context.Context, site string) {
	s.wait()
	names, err := s.client.ListCategories(ctx, site)
	if err != nil {
		s.log(logrus.WarnLevel, withError(logrus.Fields{"site": site}, err), "listing site categories")
		return
	}

	if err := s.repo.ReplaceCategories(ctx, site, names); err != nil {
		s.log(logrus.ErrorLevel, withError(logrus.Fields{"site": site}, err), "storing site categories")
		return
	}

	s.log(logrus.InfoLevel, logrus.Fields{"site": site, "categories": len(names)}, "stored site categories")
}

// syncPagePosts refreshes the discussion thread of a page that was just
// written. Posts are side data too: any failure leaves the stored thread as
// it was and never fails the page itself. An empty remote thread also leaves
// stored posts untouched, since posts.select returning nothing is
// indistinguishable from a page that never had a thread.
func (s *Syncer) syncPagePosts(ctx context.Context, site, fullname string) {
	s.wait()
	ids, err := s.client.ListPagePosts(ctx, site, fullname)
	if err != nil {
		s.log(logrus.WarnLevel, withError(logrus.Fields{"site": site, "fullname": fullname}, err), "listing page posts")
		return
	}
	if len(ids) == 0 {
		return
	}

	posts := make([]Post, 0, len(ids))
	for start := 0; start < len(ids); start += s.batchSize {
		end := min(start+s.batchSize, len(ids))
		chunk := ids[start:end]

		s.wait()
		infos, err := s.client.GetPosts(ctx, site, chunk)
		if err != nil {
			s.log(logrus.WarnLevel, withError(logrus.Fields{"site": site, "fullname": fullname}, err), "fetching page posts")
			return
		}

		for _, id := range chunk {
			info, ok := infos[id]
			if !ok {
				s.log(logrus.WarnLevel, logrus.Fields{"site": site, "fullname": fullname, "post_id": id}, "post missing from fetch result")
				continue
			}
			posts = append(posts, postFromInfo(site, fullname, info))
		}
	}

	if err := s.repo.ReplacePosts(ctx, site, fullname, posts); err != nil {
		s.log(logrus.ErrorLevel, withError(logrus.Fields{"site": site, "fullname": fullname}, err), "storing page posts")
		return
	}

	s.log(logrus.DebugLevel, logrus.Fields{"site": site, "fullname": fullname, "posts": len(posts)}, "stored page posts")
}

func (s *Syncer) wait() {
	if s.bucket != nil {
		s.bucket.Wait(1)
	}
}

func recordFromPage(site, fullname string, info *wikidot.PageInfo) *PageRecord {
	name := info.Fullname
	if name == "" {
		name = fullname
	}

	return &PageRecord{
		Site:           site,
		Fullname:       name,
		Title:          info.Title,
		CreatedAt:      info.CreatedAt,
		CreatedBy:      info.CreatedBy,
		UpdatedAt:      info.UpdatedAt,
		UpdatedBy:      info.UpdatedBy,
		ParentFullname: info.ParentFullname,
		ParentTitle:    info.ParentTitle,
		Rating:         info.Rating,
		Revisions:      info.Revisions,
		Children:       info.Children,
		Comments:       info.Comments,
		CommentedAt:    info.CommentedAt,
		CommentedBy:    info.CommentedBy,
		Content:        info.Content,
		HTML:           info.HTML,
	}
}

func postFromInfo(site, fullname string, info wikidot.PostInfo) Post {
	return Post{
		Site:         site,
		PostID:       info.ID,
		PageFullname: fullname,
		ReplyTo:      info.ReplyTo,
		Title:        info.Title,
		Content:      info.Content,
		HTML:         info.HTML,
		CreatedBy:    info.CreatedBy,
		CreatedAt:    info.CreatedAt,
		Replies:      info.Replies,
	}
}

func (s *Syncer) log(level logrus.Level, fields logrus.Fields, message string) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(fields).Log(level, message)
}

func withError(fields logrus.Fields, err error) logrus.Fields {
	out := logrus.Fields{"error": err.Error()}
	for key, value := range fields {
		out[key] = value
	}
	return out
}
