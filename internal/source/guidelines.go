package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/util"
)

// Guidelines scans configured guideline pages for reference links to the publication
type Guidelines struct {
	fetcher *Fetcher
	pages   []string
	robots  *util.RobotsChecker // nil disables robots.txt checks

	group  singleflight.Group
	mu     sync.Mutex
	parsed map[string]*guidelinePage
	failed map[string]error // Pages are not retried within a run
}

// guidelinePage is the link inventory of one guideline page
type guidelinePage struct {
	URL   string
	Title string
	Links []pageLink
}

type pageLink struct {
	Href string
	Text string
}

// NewGuidelines creates a guideline-page client
func NewGuidelines(f *Fetcher, cfg model.GuidelinesConfig, robots *util.RobotsChecker) *Guidelines {
	return &Guidelines{
		fetcher: f,
		pages:   cfg.Pages,
		robots:  robots,
		parsed:  make(map[string]*guidelinePage),
		failed:  make(map[string]error),
	}
}

func (c *Guidelines) Name() model.SourceName { return model.SourceGuidelines }

// Fetch returns one mention per page that links the publication.
// Each page is fetched and parsed once per client, however many identifiers ask.
func (c *Guidelines) Fetch(ctx context.Context, identifier string) (*model.RawRecord, error) {
	rec := &model.RawRecord{
		Source:     model.SourceGuidelines,
		RecordID:   "pages:" + identifier,
		Identifier: identifier,
		FetchedAt:  nowFunc(),
	}

	var errs []error
	for _, pageURL := range c.pages {
		page, err := c.page(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithFields(log.Fields{"source": model.SourceGuidelines, "page": pageURL}).WithError(err).Warn("guideline page unavailable")
			errs = append(errs, err)
			continue
		}
		if page.links(identifier) {
			rec.Mentions = append(rec.Mentions, model.UptakeMention{
				PublicationID:  identifier,
				Type:           model.MentionGuideline,
				SourceRecordID: page.URL,
				Source:         model.SourceGuidelines,
				Title:          page.Title,
			})
		}
	}

	if len(c.pages) > 0 && len(errs) == len(c.pages) {
		return nil, fmt.Errorf("guidelines: every page failed: %w", errors.Join(errs...))
	}
	return rec, nil
}

func (c *Guidelines) page(ctx context.Context, pageURL string) (*guidelinePage, error) {
	c.mu.Lock()
	if p, ok := c.parsed[pageURL]; ok {
		c.mu.Unlock()
		return p, nil
	}
	if err, ok := c.failed[pageURL]; ok {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(pageURL, func() (interface{}, error) {
		p, err := c.load(ctx, pageURL)
		if err != nil {
			if ctx.Err() == nil {
				c.mu.Lock()
				c.failed[pageURL] = err
				c.mu.Unlock()
			}
			return nil, err
		}
		c.mu.Lock()
		c.parsed[pageURL] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*guidelinePage), nil
}

func (c *Guidelines) load(ctx context.Context, pageURL string) (*guidelinePage, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page URL: %w", err)
	}

	if c.robots != nil {
		verdict, err := c.robots.Check(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if !verdict.Allowed {
			return nil, fmt.Errorf("%s: %w", pageURL, ErrDisallowed)
		}
		if l := c.fetcher.Limiter(); l != nil && verdict.CrawlDelay > 0 {
			l.SetCrawlDelay(base.Host, verdict.CrawlDelay)
		}
	}

	header := make(http.Header)
	header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	body, err := c.fetcher.Fetch(ctx, Request{
		Source:     model.SourceGuidelines,
		Identifier: pageURL,
		Query:      "page",
		URL:        pageURL,
		Header:     header,
	})
	if err != nil {
		return nil, err
	}

	return parseGuidelinePage(body, base)
}

// parseGuidelinePage collects every outbound link and the page title
func parseGuidelinePage(body []byte, base *url.URL) (*guidelinePage, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &guidelinePage{URL: base.String()}
	var walk func(*html.Node)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if page.Title == "" {
					page.Title = strings.TrimSpace(textOf(n))
				}
			case "a":
				for _, attr := range n.Attr {
					if attr.Key != "href" {
						continue
					}
					if href := resolveHref(base, strings.TrimSpace(attr.Val)); href != "" {
						page.Links = append(page.Links, pageLink{Href: href, Text: strings.TrimSpace(textOf(n))})
					}
				}
			}
		}

		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}

	walk(doc)
	return page, nil
}

// links reports whether any reference link on the page points at identifier
func (p *guidelinePage) links(identifier string) bool {
	for _, l := range p.Links {
		if linkMatches(l, identifier) {
			return true
		}
	}
	return false
}

func linkMatches(l pageLink, identifier string) bool {
	href, err := url.PathUnescape(l.Href)
	if err != nil {
		href = l.Href
	}
	href = strings.ToLower(href)

	if model.IsPMID(identifier) {
		pmid := model.PMIDOf(identifier)
		for _, pattern := range []string{
			"pubmed.ncbi.nlm.nih.gov/" + pmid,
			"/pubmed/" + pmid,
			"list_uids=" + pmid,
		} {
			if i := strings.Index(href, pattern); i >= 0 && !digitAt(href, i+len(pattern)) {
				return true
			}
		}
		return false
	}

	if containsDOI(href, "doi.org/"+identifier) {
		return true
	}
	text := strings.ToLower(l.Text)
	return containsDOI(text, "doi:"+identifier) || containsDOI(text, "doi.org/"+identifier)
}

// containsDOI matches a DOI only when it is not the prefix of a longer DOI
func containsDOI(s, needle string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], needle)
		if i < 0 {
			return false
		}
		end := start + i + len(needle)
		if end == len(s) || strings.ContainsRune("?#& \t),;\"'", rune(s[end])) {
			return true
		}
		start += i + 1
	}
}

// digitAt guards PMID prefixes: /pubmed/123 must not match /pubmed/1234
func digitAt(s string, i int) bool {
	return i < len(s) && s[i] >= '0' && s[i] <= '9'
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// resolveHref resolves a link against the page, keeping only http(s) targets
func resolveHref(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
