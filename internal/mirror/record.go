package mirror

import "time"

// PageRecord is one mirrored page, keyed by (site, fullname). Timestamps are
// stored verbatim as the remote reports them; equality against fresh metadata
// is what drives change detection, so no parsing or normalisation happens.
type PageRecord struct {
	Site           string     `gorm:"primaryKey;size:255;not null"`
	Fullname       string     `gorm:"primaryKey;size:255;not null"`
	Title          string     `gorm:"size:512"`
	CreatedAt      string     `gorm:"size:64"`
	CreatedBy      string     `gorm:"size:255"`
	UpdatedAt      string     `gorm:"size:64"`
	UpdatedBy      string     `gorm:"size:255"`
	ParentFullname string     `gorm:"size:255"`
	ParentTitle    string     `gorm:"size:512"`
	Rating         int
	Revisions      int
	Children       int
	Comments       int
	CommentedAt    string     `gorm:"size:64"`
	CommentedBy    string     `gorm:"size:255"`
	Content        string     `gorm:"type:text"`
	HTML           string     `gorm:"type:text;column:html"`
	DeletedAt      *time.Time `gorm:"index"`
}

// TableName defines the table name for the PageRecord model.
func (PageRecord) TableName() string {
	return "pages"
}

// Slug returns the grouping key used by the exporter. Pages from different
// sites can share a slug; the site name disambiguates at the leaf level.
func (r PageRecord) Slug() string {
	return r.Fullname
}

// Active reports whether the record is currently observed on the remote side.
func (r PageRecord) Active() bool {
	return r.DeletedAt == nil
}

// PageTag is one tag attached to a page. The tag set for a page is replaced
// wholesale on every successful refresh, never merged.
type PageTag struct {
	Site     string `gorm:"primaryKey;size:255;not null"`
	Fullname string `gorm:"primaryKey;size:255;not null"`
	Tag      string `gorm:"primaryKey;size:255;not null;index:idx_page_tags_tag"`
}

// TableName defines the table name for the PageTag model.
func (PageTag) TableName() string {
	return "page_tags"
}

// Category is one wiki category observed on a site. The per-site set is
// replaced wholesale on every reconciliation pass.
type Category struct {
	Site string `gorm:"primaryKey;size:255;not null"`
	Name string `gorm:"primaryKey;size:255;not null;column:category"`
}

// TableName defines the table name for the Category model.
func (Category) TableName() string {
	return "categories"
}

// Post is one forum post (page comment) attached to a page. A page's post
// set is replaced wholesale whenever its comments are refreshed.
type Post struct {
	Site         string `gorm:"primaryKey;size:255;not null"`
	PostID       string `gorm:"primaryKey;size:64;not null"`
	PageFullname string `gorm:"size:255;not null;index:idx_posts_page"`
	ReplyTo      string `gorm:"size:64"`
	Title        string `gorm:"size:512"`
	Content      string `gorm:"type:text"`
	HTML         string `gorm:"type:text;column:html"`
	CreatedBy    string `gorm:"size:255"`
	CreatedAt    string `gorm:"size:64"`
	Replies      int
}

// TableName defines the table name for the Post model.
func (Post) TableName() string {
	return "posts"
}

// StoredMeta is the slice of a PageRecord the change detector compares
// against freshly fetched remote metadata.
type StoredMeta struct {
	UpdatedAt string
	Revisions int
	DeletedAt *time.Time
}
