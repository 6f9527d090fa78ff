// Package wevity crawls the Wevity contest/activity portal. Listing pages are
// reverse-chronological by the numeric id embedded in the detail URL ("ix"),
// which makes a true incremental early stop possible: scanning ends at the
// first non-special item at or below the stored watermark. "Special"
// (pinned/promoted) items appear out of id order and never trigger the stop.
package wevity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"activity_fetcher/internal/domain"
)

const (
	SourceName = "wevity"

	defaultBaseURL = "https://www.wevity.com"
	idParam        = "ix"
	userAgent      = "Mozilla/5.0"
)

var dateRangeRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*~\s*(\d{4}-\d{2}-\d{2})`)

type watermarkStore interface {
	MaxQueryParamID(ctx context.Context, site domain.Site, param string) (int64, error)
}

type classifier interface {
	Classify(ctx context.Context, text string) domain.Keyword
}

type Config struct {
	BaseURL  string
	MaxPages int
	Timeout  time.Duration
}

type Source struct {
	httpClient *http.Client
	baseURL    string
	maxPages   int
	store      watermarkStore
	classify   classifier
	logger     *slog.Logger
}

func New(cfg Config, store watermarkStore, classify classifier, logger *slog.Logger) *Source {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Source{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		maxPages:   cfg.MaxPages,
		store:      store,
		classify:   classify,
		logger:     logger.With("source", SourceName),
	}
}

func (s *Source) Name() string { return SourceName }

func (s *Source) Fetch(ctx context.Context) (domain.Batch, error) {
	watermark, err := s.store.MaxQueryParamID(ctx, domain.SiteWevity, idParam)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("discover watermark: %w", err)
	}
	s.logger.Info("starting crawl", "watermark", watermark)

	urls := s.collectNewURLs(ctx, watermark)

	var batch domain.Batch
	for _, u := range urls {
		activity, err := s.fetchDetail(ctx, u)
		if err != nil {
			s.logger.Warn("detail fetch failed, skipping item",
				"error", &domain.FetchError{Site: domain.SiteWevity, URL: u, Err: err})
			continue
		}
		batch.Activities = append(batch.Activities, activity)
		s.logger.Debug("crawled activity", "name", activity.Name)
	}

	return batch, nil
}

// collectNewURLs pages through listing pages until the early stop fires, a
// page yields nothing new, or the page budget runs out. A listing page that
// fails to load ends pagination with whatever was collected so far.
func (s *Source) collectNewURLs(ctx context.Context, watermark int64) []string {
	var collected []string

	for page := 1; page <= s.maxPages; page++ {
		listURL := fmt.Sprintf("%s/?c=find&s=1&gp=%d", s.baseURL, page)

		doc, err := s.getDoc(ctx, listURL)
		if err != nil {
			s.logger.Warn("listing page failed, stopping pagination",
				"error", &domain.FetchError{Site: domain.SiteWevity, URL: listURL, Err: err})
			break
		}

		urls, stopped := s.scanListing(doc, watermark)
		collected = append(collected, urls...)

		if stopped || len(urls) == 0 {
			break
		}
	}

	return collected
}

// scanListing walks one listing page top to bottom. Items whose id is above
// the watermark are kept; a non-special item at or below it stops the scan
// (later items, special or not, are never reached). Ended and unparsable
// items are skipped without affecting the stop condition.
func (s *Source) scanListing(doc *goquery.Document, watermark int64) (urls []string, stopped bool) {
	doc.Find("ul.list li").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		// Closed listings are marked with an expired d-day badge.
		if item.Find("span.dday.end").Length() > 0 {
			return true
		}

		link := item.Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}

		id := extractID(href)
		if id > watermark {
			urls = append(urls, s.absoluteURL(href))
			return true
		}

		if !isSpecial(link) {
			stopped = true
			return false
		}
		return true
	})

	return urls, stopped
}

// isSpecial reports whether the listing entry is pinned/promoted; such
// entries are exempt from the early-stop check.
func isSpecial(link *goquery.Selection) bool {
	return link.Find("span.stat.spec").Length() > 0
}

func extractID(href string) int64 {
	u, err := url.Parse(href)
	if err != nil {
		return 0
	}
	id, _ := strconv.ParseInt(u.Query().Get(idParam), 10, 64)
	return id
}

func (s *Source) fetchDetail(ctx context.Context, detailURL string) (domain.Activity, error) {
	doc, err := s.getDoc(ctx, detailURL)
	if err != nil {
		return domain.Activity{}, err
	}

	name := strings.TrimSpace(doc.Find("h6.tit").First().Text())
	content := strings.TrimSpace(doc.Find("#viewContents").First().Text())
	if name == "" {
		return domain.Activity{}, fmt.Errorf("detail page missing title markup")
	}

	start, end := extractDateRange(doc)

	return domain.Activity{
		Site:      domain.SiteWevity,
		Type:      extractType(doc),
		Content:   content,
		Name:      name,
		SiteURL:   detailURL,
		ImageURL:  s.extractImage(doc),
		Keyword:   s.classify.Classify(ctx, content),
		StartDate: start,
		EndDate:   end,
	}, nil
}

// extractType maps the first category row of the detail page to an activity
// type. Anything that is not supporters or volunteering counts as a contest.
func extractType(doc *goquery.Document) domain.ActivityType {
	li := doc.Find("ul.cd-info-list li").First()
	li.Find("span.tit").Remove()
	category := strings.TrimSpace(li.Text())

	switch category {
	case "대외활동/서포터즈":
		return domain.TypeSupporters
	case "봉사활동":
		return domain.TypeVolunteer
	default:
		return domain.TypeContest
	}
}

// extractDateRange reads the application window from the detail page's
// "접수기간" (application period) row.
func extractDateRange(doc *goquery.Document) (start, end *time.Time) {
	doc.Find("li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		text := li.Text()
		if !strings.Contains(text, "접수기간") {
			return true
		}

		m := dateRangeRe.FindStringSubmatch(text)
		if m == nil {
			return true
		}

		from, err1 := time.Parse("2006-01-02", m[1])
		to, err2 := time.Parse("2006-01-02", m[2])
		if err1 != nil || err2 != nil {
			return true
		}

		// The window covers the whole end day.
		to = to.Add(24*time.Hour - time.Microsecond)
		start, end = &from, &to
		return false
	})

	return start, end
}

func (s *Source) extractImage(doc *goquery.Document) string {
	src, ok := doc.Find("div.thumb img").First().Attr("src")
	if !ok {
		return ""
	}
	return s.absoluteURL(src)
}

func (s *Source) absoluteURL(ref string) string {
	if strings.HasPrefix(ref, "/") {
		return s.baseURL + ref
	}
	return ref
}

func (s *Source) getDoc(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
