package mirror

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines persistence operations for mirrored pages. The
// repository is the only component that mutates page and tag rows.
type Repository interface {
	GetStoredMeta(ctx context.Context, site, fullname string) (*StoredMeta, error)

	// Upsert replaces or inserts the page row and swaps its tag set. The
	// stored row always ends up active; the caller's record is not modified.
	Upsert(ctx context.Context, page *PageRecord, tags []string) error

	MarkDeleted(ctx context.Context, site, fullname string, at time.Time) error
	ListActive(ctx context.Context) ([]PageRecord, error)
	TagsFor(ctx context.Context, site, fullname string) ([]string, error)
	CountActive(ctx context.Context) (int64, error)
	CountDeleted(ctx context.Context) (int64, error)

	ReplaceCategories(ctx context.Context, site string, names []string) error
	CategoriesFor(ctx context.Context, site string) ([]string, error)
	ReplacePosts(ctx context.Context, site, fullname string, posts []Post) error
	PostsFor(ctx context.Context, site, fullname string) ([]Post, error)
}

// GormRepository persists pages using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

var _ Repository = (*GormRepository)(nil)

// GetStoredMeta returns the change-detection fields for the page, or nil
// when no record exists for the key.
func (r *GormRepository) GetStoredMeta(ctx context.Context, site, fullname string) (*StoredMeta, error) {
	if err := requireKey(site, fullname); err != nil {
		return nil, err
	}

	var record PageRecord
	err := r.db.WithContext(ctx).
		Select("updated_at", "revisions", "deleted_at").
		First(&record, "site = ? AND fullname = ?", site, fullname).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"site": site, "fullname": fullname}, err, "fetching stored page metadata")
		return nil, eris.Wrapf(err, "fetching stored metadata for %s/%s", site, fullname)
	}

	return &StoredMeta{
		UpdatedAt: record.UpdatedAt,
		Revisions: record.Revisions,
		DeletedAt: record.DeletedAt,
	}, nil
}

// Upsert replaces the page row if present, inserts it otherwise, and swaps
// the page's tag set, all inside one transaction. A successful upsert always
// clears deleted_at: the page was just observed on the remote side. The
// clearing happens on an internal copy, never on the caller's record.
func (r *GormRepository) Upsert(ctx context.Context, page *PageRecord, tags []string) error {
	if page == nil {
		return eris.New("page is nil")
	}
	if err := requireKey(page.Site, page.Fullname); err != nil {
		return err
	}

	record := *page
	record.DeletedAt = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
			return eris.Wrapf(err, "saving page %s/%s", page.Site, page.Fullname)
		}

		if err := tx.Where("site = ? AND fullname = ?", page.Site, page.Fullname).
			Delete(&PageTag{}).Error; err != nil {
			return eris.Wrapf(err, "clearing tags for %s/%s", page.Site, page.Fullname)
		}

		if len(tags) == 0 {
			return nil
		}

		rows := make([]PageTag, 0, len(tags))
		for _, tag := range tags {
			trimmed := strings.TrimSpace(tag)
			if trimmed == "" {
				continue
			}
			rows = append(rows, PageTag{Site: page.Site, Fullname: page.Fullname, Tag: trimmed})
		}

		if len(rows) == 0 {
			return nil
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return eris.Wrapf(err, "inserting tags for %s/%s", page.Site, page.Fullname)
		}

		return nil
	})
	if err != nil {
		r.logError(logrus.Fields{"site": page.Site, "fullname": page.Fullname}, err, "upserting page")
		return err
	}

	return nil
}

// MarkDeleted records that the page was observed missing on the remote side.
// An already soft-deleted row keeps its original deletion timestamp. When no
// row exists at all, a soft-deleted stub is inserted so the disappearance is
// still remembered.
func (r *GormRepository) MarkDeleted(ctx context.Context, site, fullname string, at time.Time) error {
	if err := requireKey(site, fullname); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PageRecord{}).
			Where("site = ? AND fullname = ? AND deleted_at IS NULL", site, fullname).
			Update("deleted_at", at)
		if result.Error != nil {
			return eris.Wrapf(result.Error, "marking page deleted: %s/%s", site, fullname)
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&PageRecord{}).
			Where("site = ? AND fullname = ?", site, fullname).
			Count(&count).Error; err != nil {
			return eris.Wrapf(err, "checking for existing page: %s/%s", site, fullname)
		}
		if count > 0 {
			// Already soft-deleted; nothing to change.
			return nil
		}

		stub := PageRecord{Site: site, Fullname: fullname, DeletedAt: &at}
		if err := tx.Create(&stub).Error; err != nil {
			return eris.Wrapf(err, "inserting deleted stub: %s/%s", site, fullname)
		}

		return nil
	})
	if err != nil {
		r.logError(logrus.Fields{"site": site, "fullname": fullname}, err, "marking page deleted")
		return err
	}

	return nil
}

// ListActive returns every record without a deletion mark, ordered by
// (site, fullname) so downstream output is deterministic.
func (r *GormRepository) ListActive(ctx context.Context) ([]PageRecord, error) {
	var records []PageRecord

	err := r.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		Order("site ASC, fullname ASC").
		Find(&records).Error
	if err != nil {
		r.logError(nil, err, "listing active pages")
		return nil, eris.Wrap(err, "listing active pages")
	}

	return records, nil
}

// TagsFor returns the page's tags in sorted order.
func (r *GormRepository) TagsFor(ctx context.Context, site, fullname string) ([]string, error) {
	if err := requireKey(site, fullname); err != nil {
		return nil, err
	}

	var tags []string
	err := r.db.WithContext(ctx).
		Model(&PageTag{}).
		Where("site = ? AND fullname = ?", site, fullname).
		Order("tag ASC").
		Pluck("tag", &tags).Error
	if err != nil {
		r.logError(logrus.Fields{"site": site, "fullname": fullname}, err, "listing page tags")
		return nil, eris.Wrapf(err, "listing tags for %s/%s", site, fullname)
	}

	return tags, nil
}

// CountActive returns the number of records without a deletion mark.
func (r *GormRepository) CountActive(ctx context.Context) (int64, error) {
	return r.count(ctx, "deleted_at IS NULL")
}

// CountDeleted returns the number of soft-deleted records.
func (r *GormRepository) CountDeleted(ctx context.Context) (int64, error) {
	return r.count(ctx, "deleted_at IS NOT NULL")
}

// ReplaceCategories swaps the site's category list wholesale. Categories
// carry no per-row state worth diffing, so a delete-and-reinsert inside one
// transaction keeps the stored list an exact copy of the remote one.
func (r *GormRepository) ReplaceCategories(ctx context.Context, site string, names []string) error {
	if strings.TrimSpace(site) == "" {
		return eris.New("site is required")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("site = ?", site).Delete(&Category{}).Error; err != nil {
			return eris.Wrapf(err, "clearing categories for %s", site)
		}

		rows := make([]Category, 0, len(names))
		for _, name := range names {
			trimmed := strings.TrimSpace(name)
			if trimmed == "" {
				continue
			}
			rows = append(rows, Category{Site: site, Name: trimmed})
		}

		if len(rows) == 0 {
			return nil
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return eris.Wrapf(err, "inserting categories for %s", site)
		}

		return nil
	})
	if err != nil {
		r.logError(logrus.Fields{"site": site}, err, "replacing categories")
		return err
	}

	return nil
}

// CategoriesFor returns the site's categories in sorted order.
func (r *GormRepository) CategoriesFor(ctx context.Context, site string) ([]string, error) {
	if strings.TrimSpace(site) == "" {
		return nil, eris.New("site is required")
	}

	var names []string
	err := r.db.WithContext(ctx).
		Model(&Category{}).
		Where("site = ?", site).
		Order("category ASC").
		Pluck("category", &names).Error
	if err != nil {
		r.logError(logrus.Fields{"site": site}, err, "listing categories")
		return nil, eris.Wrapf(err, "listing categories for %s", site)
	}

	return names, nil
}

// ReplacePosts swaps the page's discussion posts wholesale, inside one
// transaction. Posts for other pages on the same site are untouched.
func (r *GormRepository) ReplacePosts(ctx context.Context, site, fullname string, posts []Post) error {
	if err := requireKey(site, fullname); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("site = ? AND page_fullname = ?", site, fullname).
			Delete(&Post{}).Error; err != nil {
			return eris.Wrapf(err, "clearing posts for %s/%s", site, fullname)
		}

		if len(posts) == 0 {
			return nil
		}

		rows := make([]Post, 0, len(posts))
		for _, post := range posts {
			if strings.TrimSpace(post.PostID) == "" {
				continue
			}
			post.Site = site
			post.PageFullname = fullname
			rows = append(rows, post)
		}

		if len(rows) == 0 {
			return nil
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return eris.Wrapf(err, "inserting posts for %s/%s", site, fullname)
		}

		return nil
	})
	if err != nil {
		r.logError(logrus.Fields{"site": site, "fullname": fullname}, err, "replacing posts")
		return err
	}

	return nil
}

// PostsFor returns the page's posts ordered by post id.
func (r *GormRepository) PostsFor(ctx context.Context, site, fullname string) ([]Post, error) {
	if err := requireKey(site, fullname); err != nil {
		return nil, err
	}

	var posts []Post
	err := r.db.WithContext(ctx).
		Where("site = ? AND page_fullname = ?", site, fullname).
		Order("post_id ASC").
		Find(&posts).Error
	if err != nil {
		r.logError(logrus.Fields{"site": site, "fullname": fullname}, err, "listing posts")
		return nil, eris.Wrapf(err, "listing posts for %s/%s", site, fullname)
	}

	return posts, nil
}

func (r *GormRepository) count(ctx context.Context, condition string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&PageRecord{}).Where(condition).Count(&count).Error; err != nil {
		r.logError(nil, err, "counting pages")
		return 0, eris.Wrap(err, "counting pages")
	}
	return count, nil
}

func requireKey(site, fullname string) error {
	if strings.TrimSpace(site) == "" {
		return eris.New("site is required")
	}
	if strings.TrimSpace(fullname) == "" {
		return eris.New("fullname is required")
	}
	return nil
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil || err == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
