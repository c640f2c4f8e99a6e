package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Homepage is what enrichment learns from a company's homepage.
type Homepage struct {
	URL         string
	Title       string
	Description string
	// Text is the main readable text, truncated to MaxTextLength.
	Text string
}

// MaxTextLength bounds Homepage.Text.
const MaxTextLength = 4000

// Describe extracts the title, meta description and main text of a page.
func Describe(pageURL, html string) (*Homepage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	hp := &Homepage{
		URL:   pageURL,
		Title: strings.Join(strings.Fields(doc.Find("title").First().Text()), " "),
	}
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`, `meta[name="twitter:description"]`} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(content) != "" {
			hp.Description = strings.Join(strings.Fields(content), " ")
			break
		}
	}

	text := mainText(doc, HomepageSelectors())
	if len(text) > MaxTextLength {
		text = text[:MaxTextLength]
	}
	hp.Text = text
	return hp, nil
}

// Fetcher loads homepages over HTTP and, when given a renderer, re-renders
// pages whose static HTML is too thin.
type Fetcher struct {
	opts     *Options
	renderer PageRenderer
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher. A nil opts uses DefaultOptions; a nil
// renderer disables browser rendering.
func NewFetcher(opts *Options, renderer PageRenderer, logger *zap.Logger) *Fetcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{opts: opts, renderer: renderer, logger: logger}
}

// Homepage fetches and describes the page at pageURL.
func (f *Fetcher) Homepage(ctx context.Context, pageURL string) (*Homepage, error) {
	res, err := URL(ctx, pageURL, f.opts)
	if err != nil {
		return nil, err
	}
	hp, err := Describe(res.URL, res.HTML)
	if err != nil {
		return nil, err
	}
	if f.renderer == nil || !ShouldUseBrowser(hp.Text) {
		return hp, nil
	}

	f.logger.Debug("homepage text too short, rendering in browser", zap.String("url", pageURL), zap.Int("text_len", len(hp.Text)))
	html, err := f.renderer.Render(ctx, pageURL)
	if err != nil {
		f.logger.Warn("browser rendering failed, keeping static HTML", zap.String("url", pageURL), zap.Error(err))
		return hp, nil
	}
	rendered, err := Describe(res.URL, html)
	if err != nil {
		return hp, nil
	}
	if rendered.Description == "" {
		rendered.Description = hp.Description
	}
	return rendered, nil
}
