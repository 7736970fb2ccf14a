// Package wikidot wraps the Wikidot XML-RPC API behind a narrow client
// interface so the sync driver never sees the transport.
package wikidot

import "context"

// PageMeta is the bulk metadata the API reports per page. UpdatedAt is kept
// verbatim as reported; change detection compares it for exact equality.
type PageMeta struct {
	Fullname  string
	UpdatedAt string
	Revisions int
	Tags      []string
}

// PageInfo is the full payload of a single page fetch.
type PageInfo struct {
	Fullname       string
	Title          string
	CreatedAt      string
	CreatedBy      string
	UpdatedAt      string
	UpdatedBy      string
	ParentFullname string
	ParentTitle    string
	Rating         int
	Revisions      int
	Children       int
	Comments       int
	CommentedAt    string
	CommentedBy    string
	Content        string
	HTML           string
	Tags           []string
}

// PostInfo is one forum post (page comment) as reported by the API.
type PostInfo struct {
	ID        string
	ReplyTo   string
	Title     string
	Content   string
	HTML      string
	CreatedBy string
	CreatedAt string
	Replies   int
}

// Client lists, bulk-describes and fetches pages for one site at a time.
type Client interface {
	// ListPages returns every page fullname known to the site.
	ListPages(ctx context.Context, site string) ([]string, error)

	// GetPagesMeta returns metadata keyed by fullname for up to one batch of pages.
	GetPagesMeta(ctx context.Context, site string, pages []string) (map[string]PageMeta, error)

	// GetPage returns the full content of a single page.
	GetPage(ctx context.Context, site, fullname string) (*PageInfo, error)

	// ListCategories returns every category name known to the site.
	ListCategories(ctx context.Context, site string) ([]string, error)

	// ListPagePosts returns the IDs of every post attached to the page.
	ListPagePosts(ctx context.Context, site, fullname string) ([]string, error)

	// GetPosts returns post payloads keyed by ID for up to one batch of post IDs.
	GetPosts(ctx context.Context, site string, ids []string) (map[string]PostInfo, error)
}
