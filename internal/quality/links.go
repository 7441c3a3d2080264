package quality

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// LinkChecker verifies outbound links in rendered HTML.
type LinkChecker interface {
	// Broken returns the URLs that resolved to an error status. An
	// error return means the check could not run at all.
	Broken(ctx context.Context, html string) ([]string, error)
}

// HTTPLinkChecker probes each absolute link with a HEAD request.
type HTTPLinkChecker struct {
	Client  *http.Client
	Timeout time.Duration
	// MaxLinks bounds how many links are probed per draft.
	MaxLinks int
}

var _ LinkChecker = (*HTTPLinkChecker)(nil)

// Broken extracts href attributes and probes each absolute URL. A link
// is broken when it returns a 4xx/5xx status; an unreachable link
// counts as broken, not as a check failure, so flaky targets do not
// block the pipeline forever.
func (c *HTTPLinkChecker) Broken(ctx context.Context, html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, types.Permanent("parsing HTML for link check", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			links = append(links, href)
		}
	})
	max := c.MaxLinks
	if max == 0 {
		max = 20
	}
	if len(links) > max {
		links = links[:max]
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var broken []string
	for _, link := range links {
		ok, err := c.probe(ctx, client, link, timeout)
		if err != nil {
			return nil, err
		}
		if !ok {
			broken = append(broken, link)
		}
	}
	return broken, nil
}

func (c *HTTPLinkChecker) probe(ctx context.Context, client *http.Client, link string, timeout time.Duration) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, link, nil)
	if err != nil {
		return false, nil
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Our own context died: the check could not run.
			return false, types.Transient("link check interrupted", ctx.Err())
		}
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400, nil
}
