package wp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// wpDateLayout is the zoneless local-time layout the WordPress REST API
// uses for the `date` field. The instant is interpreted in the site's
// configured timezone, which is a backward-compatibility requirement of
// the wire contract.
const wpDateLayout = "2006-01-02T15:04:05"

// Client is the WordPress REST v2 implementation of Adapter.
type Client struct {
	apiBase    string
	authHeader string
	siteTZ     *time.Location
	httpClient *http.Client
	timeout    time.Duration
}

// Config holds WordPress connection settings.
type Config struct {
	BaseURL     string
	Username    string
	AppPassword string
	SiteTZ      *time.Location
	CallTimeout time.Duration
}

// NewClient builds a WordPress client using application-password basic auth.
func NewClient(cfg Config) *Client {
	creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.AppPassword))
	tz := cfg.SiteTZ
	if tz == nil {
		tz = time.UTC
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiBase:    strings.TrimRight(cfg.BaseURL, "/") + "/wp-json/wp/v2",
		authHeader: "Basic " + creds,
		siteTZ:     tz,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

var _ Adapter = (*Client)(nil)

// postPayload is the create/update body for /posts.
type postPayload struct {
	Title         string  `json:"title,omitempty"`
	Content       string  `json:"content,omitempty"`
	Excerpt       string  `json:"excerpt,omitempty"`
	Slug          string  `json:"slug,omitempty"`
	Status        string  `json:"status,omitempty"`
	Date          string  `json:"date,omitempty"`
	Categories    []int64 `json:"categories,omitempty"`
	Tags          []int64 `json:"tags,omitempty"`
	FeaturedMedia int64   `json:"featured_media,omitempty"`
}

// postResponse is the subset of the /posts representation we read back.
type postResponse struct {
	ID     int64  `json:"id"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
	Date   string `json:"date"`
	Link   string `json:"link"`
}

// UpsertPost creates the remote post on first call and updates the same
// post on subsequent calls with the prior reference. The post is written
// with draft status; SetSchedule applies the requested publish mode.
func (c *Client) UpsertPost(ctx context.Context, fingerprint string, draft types.ContentDraft, prior *types.PostRef) (types.PostRef, error) {
	var featured int64
	if img := draft.FeaturedImage(); img != nil {
		featured = img.RemoteID
	}
	payload := postPayload{
		Title:         draft.Title,
		Content:       draft.BodyHTML,
		Excerpt:       draft.Excerpt,
		Slug:          draft.Slug,
		Status:        "draft",
		Categories:    draft.CategoryIDs,
		Tags:          draft.TagIDs,
		FeaturedMedia: featured,
	}

	path := "/posts"
	if prior != nil && prior.PostID != 0 {
		path = fmt.Sprintf("/posts/%d", prior.PostID)
		payload.Status = "" // do not regress an already-scheduled post
	}

	var resp postResponse
	if err := c.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return types.PostRef{}, err
	}
	return types.PostRef{
		Fingerprint: fingerprint,
		PostID:      resp.ID,
		URL:         resp.Link,
		Status:      resp.Status,
	}, nil
}

// UploadMedia posts the binary body with an attachment disposition, then
// patches title and alt text onto the created attachment.
func (c *Client) UploadMedia(ctx context.Context, contentHash string, data []byte, filename, mime, altText string) (MediaRef, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.apiBase+"/media", bytes.NewReader(data))
	if err != nil {
		return MediaRef{}, types.Permanent("building media request", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", mime)
	req.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return MediaRef{}, types.Transient("uploading media", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return MediaRef{}, classify(resp, body)
	}

	var created struct {
		ID        int64  `json:"id"`
		SourceURL string `json:"source_url"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return MediaRef{}, types.Permanent("decoding media response", err)
	}

	// Alt text cannot be set on the upload call itself.
	patch := map[string]string{"alt_text": altText, "title": altText}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/media/%d", created.ID), patch, nil); err != nil {
		return MediaRef{}, err
	}
	return MediaRef{ID: created.ID, SourceURL: created.SourceURL}, nil
}

// termResponse is the /categories and /tags representation.
type termResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ResolveTaxonomy maps names to term ids, creating any that do not
// exist. Existing terms are listed ordered by id ascending so that a
// case-insensitive tie reuses the first match by creation order.
func (c *Client) ResolveTaxonomy(ctx context.Context, kind TaxonomyKind, names []string) ([]TermRef, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var existing []termResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%s?per_page=100&orderby=id&order=asc", kind), nil, &existing); err != nil {
		return nil, err
	}
	byLower := make(map[string]termResponse, len(existing))
	for _, term := range existing {
		key := strings.ToLower(term.Name)
		if _, ok := byLower[key]; !ok {
			byLower[key] = term
		}
	}

	refs := make([]TermRef, 0, len(names))
	for _, name := range names {
		if term, ok := byLower[strings.ToLower(name)]; ok {
			refs = append(refs, TermRef{ID: term.ID, Name: term.Name, Slug: term.Slug})
			continue
		}
		var created termResponse
		payload := map[string]string{"name": name, "slug": types.Slugify(name)}
		if err := c.do(ctx, http.MethodPost, "/"+string(kind), payload, &created); err != nil {
			return nil, err
		}
		byLower[strings.ToLower(name)] = created
		refs = append(refs, TermRef{ID: created.ID, Name: created.Name, Slug: created.Slug})
	}
	return refs, nil
}

// SetSchedule applies the publish mode. Scheduled posts use status
// `future` with the datetime rendered in the site timezone.
func (c *Client) SetSchedule(ctx context.Context, ref types.PostRef, spec types.ScheduleSpec) (EffectiveStatus, error) {
	payload := postPayload{Status: remoteStatus(spec.Mode)}
	if spec.Mode == types.ModeSchedule {
		if spec.At == nil {
			return EffectiveStatus{}, types.Permanent("schedule mode requires a datetime", nil)
		}
		payload.Date = spec.At.In(c.siteTZ).Format(wpDateLayout)
	}

	var resp postResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/posts/%d", ref.PostID), payload, &resp); err != nil {
		return EffectiveStatus{}, err
	}
	return c.effective(resp)
}

// ReadPost re-reads the post's resolved status and datetime.
func (c *Client) ReadPost(ctx context.Context, ref types.PostRef) (EffectiveStatus, error) {
	var resp postResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/posts/%d?context=edit", ref.PostID), nil, &resp); err != nil {
		return EffectiveStatus{}, err
	}
	return c.effective(resp)
}

func (c *Client) effective(resp postResponse) (EffectiveStatus, error) {
	eff := EffectiveStatus{Status: resp.Status}
	if resp.Date != "" {
		at, err := time.ParseInLocation(wpDateLayout, resp.Date, c.siteTZ)
		if err != nil {
			return EffectiveStatus{}, types.Permanent("parsing post date "+resp.Date, err)
		}
		eff.Date = &at
	}
	return eff, nil
}

func remoteStatus(mode types.ScheduleMode) string {
	switch mode {
	case types.ModePublish:
		return "publish"
	case types.ModeSchedule:
		return "future"
	default:
		return "draft"
	}
}

// do issues one JSON API call with the per-call timeout. Network errors
// are transient; HTTP failures are classified by status code.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return types.Permanent("encoding request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.apiBase+path, reader)
	if err != nil {
		return types.Permanent("building request", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.Transient(fmt.Sprintf("calling %s %s", method, path), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transient("reading response body", err)
	}
	if resp.StatusCode >= 400 {
		return classify(resp, payload)
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return types.Permanent("decoding response", err)
		}
	}
	return nil
}
