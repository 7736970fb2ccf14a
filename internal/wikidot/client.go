package wikidot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// ClientOptions controls how the API client is initialised.
type ClientOptions struct {
	User      string
	APIKey    string
	Endpoint  string
	Transport http.RoundTripper
	Logger    *logrus.Logger
}

// APIClient talks to the Wikidot XML-RPC endpoint.
type APIClient struct {
	rpc    *xmlrpc.Client
	logger *logrus.Logger
}

var _ Client = (*APIClient)(nil)

// NewClient constructs an authenticated API client. Credentials travel in the
// endpoint URL, which is how the Wikidot API expects them.
func NewClient(opts ClientOptions) (*APIClient, error) {
	user := strings.TrimSpace(opts.User)
	key := strings.TrimSpace(opts.APIKey)
	if user == "" {
		return nil, eris.New("wikidot api user is required")
	}
	if key == "" {
		return nil, eris.New("wikidot api key is required")
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf(
			"https://%s:%s@www.wikidot.com/xml-rpc-api.php",
			url.QueryEscape(user),
			url.QueryEscape(key),
		)
	}

	rpc, err := xmlrpc.NewClient(endpoint, opts.Transport)
	if err != nil {
		return nil, eris.Wrap(err, "creating xml-rpc client")
	}

	return &APIClient{rpc: rpc, logger: opts.Logger}, nil
}

// ListPages returns every page fullname known to the site.
func (c *APIClient) ListPages(ctx context.Context, site string) ([]string, error) {
	var names []string
	if err := c.call(ctx, "pages.select", map[string]interface{}{"site": site}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// GetPagesMeta returns metadata keyed by fullname for up to one batch of pages.
func (c *APIClient) GetPagesMeta(ctx context.Context, site string, pages []string) (map[string]PageMeta, error) {
	var payload map[string]map[string]interface{}
	args := map[string]interface{}{"site": site, "pages": pages}
	if err := c.call(ctx, "pages.get_meta", args, &payload); err != nil {
		return nil, err
	}

	metas := make(map[string]PageMeta, len(payload))
	for fullname, fields := range payload {
		metas[fullname] = PageMeta{
			Fullname:  stringField(fields, "fullname", fullname),
			UpdatedAt: stringField(fields, "updated_at", ""),
			Revisions: intField(fields, "revisions"),
			Tags:      stringsField(fields, "tags"),
		}
	}
	return metas, nil
}

// GetPage returns the full content of a single page.
func (c *APIClient) GetPage(ctx context.Context, site, fullname string) (*PageInfo, error) {
	var fields map[string]interface{}
	args := map[string]interface{}{"site": site, "page": fullname}
	if err := c.call(ctx, "pages.get_one", args, &fields); err != nil {
		return nil, err
	}

	return &PageInfo{
		Fullname:       stringField(fields, "fullname", fullname),
		Title:          stringField(fields, "title", ""),
		CreatedAt:      stringField(fields, "created_at", ""),
		CreatedBy:      stringField(fields, "created_by", ""),
		UpdatedAt:      stringField(fields, "updated_at", ""),
		UpdatedBy:      stringField(fields, "updated_by", ""),
		ParentFullname: stringField(fields, "parent_fullname", ""),
		ParentTitle:    stringField(fields, "parent_title", ""),
		Rating:         intField(fields, "rating"),
		Revisions:      intField(fields, "revisions"),
		Children:       intField(fields, "children"),
		Comments:       intField(fields, "comments"),
		CommentedAt:    stringField(fields, "commented_at", ""),
		CommentedBy:    stringField(fields, "commented_by", ""),
		Content:        stringField(fields, "content", ""),
		HTML:           stringField(fields, "html", ""),
		Tags:           stringsField(fields, "tags"),
	}, nil
}

// ListCategories returns every category name known to the site.
func (c *APIClient) ListCategories(ctx context.Context, site string) ([]string, error) {
	var names []string
	if err := c.call(ctx, "categories.select", map[string]interface{}{"site": site}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// ListPagePosts returns the IDs of every post attached to the page. The API
// reports IDs as integers; they are normalised to strings here so batch
// fetches can pass them back verbatim.
func (c *APIClient) ListPagePosts(ctx context.Context, site, fullname string) ([]string, error) {
	var raw []interface{}
	args := map[string]interface{}{"site": site, "page": fullname}
	if err := c.call(ctx, "posts.select", args, &raw); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		if id := idString(item); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetPosts returns post payloads keyed by ID for up to one batch of post IDs.
func (c *APIClient) GetPosts(ctx context.Context, site string, ids []string) (map[string]PostInfo, error) {
	var payload map[string]map[string]interface{}
	args := map[string]interface{}{"site": site, "posts": ids}
	if err := c.call(ctx, "posts.get", args, &payload); err != nil {
		return nil, err
	}

	posts := make(map[string]PostInfo, len(payload))
	for id, fields := range payload {
		posts[id] = PostInfo{
			ID:        stringField(fields, "id", id),
			ReplyTo:   stringField(fields, "reply_to", ""),
			Title:     stringField(fields, "title", ""),
			Content:   stringField(fields, "content", ""),
			HTML:      stringField(fields, "html", ""),
			CreatedBy: stringField(fields, "created_by", ""),
			CreatedAt: stringField(fields, "created_at", ""),
			Replies:   intField(fields, "replies"),
		}
	}
	return posts, nil
}

func (c *APIClient) call(ctx context.Context, method string, args, reply interface{}) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "calling %s", method)
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"method": method}).Debug("wikidot api call")
	}

	if err := c.rpc.Call(method, args, reply); err != nil {
		var rpcFault xmlrpc.FaultError
		if errors.As(err, &rpcFault) {
			return &Fault{Code: rpcFault.Code, Message: rpcFault.String}
		}
		return eris.Wrapf(err, "calling %s", method)
	}

	return nil
}

// The decoder hands back interface{} values whose concrete types depend on
// the XML-RPC value tags, so field access normalises them here.

func stringField(fields map[string]interface{}, key, fallback string) string {
	switch value := fields[key].(type) {
	case string:
		return value
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	default:
		return fallback
	}
}

func intField(fields map[string]interface{}, key string) int {
	switch value := fields[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func idString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

func stringsField(fields map[string]interface{}, key string) []string {
	items, ok := fields[key].([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
