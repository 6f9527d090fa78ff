// Package bbc pulls news articles from the BBC content-collection API. The
// API has no incremental filter, so deduplication runs against the full set
// of already stored article URLs. A page whose articles are all known is NOT
// the end of a collection: collections interleave old and new items, so the
// scan proceeds until the API itself runs out of pages.
package bbc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"activity_fetcher/internal/domain"
)

const (
	SourceName = "bbc"

	defaultAPIBaseURL = "https://web-cdn.api.bbci.co.uk/xd/content-collection/"
	articleBaseURL    = "https://www.bbc.com"
	pageSize          = 9
	userAgent         = "Mozilla/5.0"
)

// collections maps category names to the collection ids the BBC CDN serves
// them under.
var collections = map[string]string{
	"natural-wonders":   "9f0b9075-b620-4859-abdc-ed042dd9ee66",
	"weather-science":   "696fca43-ec53-418d-a42c-067cb0449ba9",
	"climate-solutions": "5fa7bbe8-5ea3-4bc6-ac7e-546d0dc4a16b",
	"world":             "07cedf01-f642-4b92-821f-d7b324b8ba73",
	"innovation":        "3da03ce0-ee41-4427-a5d9-1294491e0448",
	"business":          "daa2a2f9-0c9e-4249-8234-bae58f372d82",
}

type issueStore interface {
	ExistingURLs(ctx context.Context) (map[string]struct{}, error)
}

type classifier interface {
	Classify(ctx context.Context, text string) domain.Keyword
}

type Config struct {
	APIBaseURL     string
	ArticleBaseURL string
	Timeout        time.Duration
}

type Source struct {
	httpClient     *http.Client
	apiBaseURL     string
	articleBaseURL string
	store          issueStore
	classify       classifier
	logger         *slog.Logger
}

func New(cfg Config, store issueStore, classify classifier, logger *slog.Logger) *Source {
	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	base := cfg.ArticleBaseURL
	if base == "" {
		base = articleBaseURL
	}

	return &Source{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		apiBaseURL:     apiBaseURL,
		articleBaseURL: base,
		store:          store,
		classify:       classify,
		logger:         logger.With("source", SourceName),
	}
}

func (s *Source) Name() string { return SourceName }

type collectionItem struct {
	Type             string `json:"type"`
	Path             string `json:"path"`
	Title            string `json:"title"`
	FirstPublishedAt string `json:"firstPublishedAt"`
	IndexImage       *struct {
		Model struct {
			Blocks struct {
				Src string `json:"src"`
			} `json:"blocks"`
		} `json:"model"`
	} `json:"indexImage"`
}

type collectionPage struct {
	Data []collectionItem `json:"data"`
}

func (s *Source) Fetch(ctx context.Context) (domain.Batch, error) {
	known, err := s.store.ExistingURLs(ctx)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("load known urls: %w", err)
	}
	s.logger.Info("crawl started", "known_urls", len(known))

	var batch domain.Batch
	for category, collectionID := range collections {
		issues := s.fetchCollection(ctx, category, collectionID, known)
		batch.Issues = append(batch.Issues, issues...)
	}

	return batch, nil
}

// fetchCollection walks one collection page by page. An empty API page ends
// the collection; a page of only known articles does not. Page-level request
// failures also end the collection so one flaky category cannot loop forever.
func (s *Source) fetchCollection(ctx context.Context, category, collectionID string, known map[string]struct{}) []domain.Issue {
	var issues []domain.Issue

	for page := 0; ; page++ {
		items, err := s.fetchPage(ctx, collectionID, page)
		if err != nil {
			s.logger.Warn("collection page failed",
				"category", category, "page", page,
				"error", &domain.FetchError{Site: domain.SiteBBC, URL: s.apiBaseURL + collectionID, Err: err})
			break
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if item.Type != "article" {
				continue
			}

			url := s.articleBaseURL + item.Path
			if _, seen := known[url]; seen {
				continue
			}

			issue, err := s.buildIssue(ctx, item, url)
			if err != nil {
				s.logger.Warn("skipping article",
					"error", &domain.FetchError{Site: domain.SiteBBC, URL: url, Err: err})
				continue
			}

			known[url] = struct{}{}
			issues = append(issues, issue)
		}
	}

	s.logger.Info("collection scanned", "category", category, "new", len(issues))
	return issues
}

func (s *Source) fetchPage(ctx context.Context, collectionID string, page int) ([]collectionItem, error) {
	url := fmt.Sprintf("%s%s?page=%d&size=%d", s.apiBaseURL, collectionID, page, pageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var decoded collectionPage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded.Data, nil
}

func (s *Source) buildIssue(ctx context.Context, item collectionItem, url string) (domain.Issue, error) {
	content, err := s.fetchContent(ctx, url)
	if err != nil {
		return domain.Issue{}, err
	}

	issueDate, err := time.Parse(time.RFC3339, item.FirstPublishedAt)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("parse publish date %q: %w", item.FirstPublishedAt, err)
	}

	var imageURL string
	if item.IndexImage != nil {
		imageURL = item.IndexImage.Model.Blocks.Src
	}

	return domain.Issue{
		Title:     item.Title,
		Content:   content,
		ImageURL:  imageURL,
		IssueDate: issueDate,
		Keyword:   s.classify.Classify(ctx, content),
		SiteURL:   url,
	}, nil
}

// fetchContent extracts the article body from its text-block components.
func (s *Source) fetchContent(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	var blocks []string
	doc.Find(`div[data-component="text-block"]`).Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return "", fmt.Errorf("no text blocks in article markup")
	}

	return strings.Join(blocks, "\n"), nil
}
