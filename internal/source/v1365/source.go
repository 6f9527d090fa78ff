// Package v1365 pulls volunteer programs from the Korean 1365 portal. The
// portal lists newest programs on the highest page numbers, so the crawl
// covers a fixed-size window of trailing pages and relies on the id set
// already stored to filter out known programs.
package v1365

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"activity_fetcher/internal/domain"
)

const (
	SourceName = "1365"

	defaultBaseURL = "https://www.1365.go.kr"
	listingPath    = "/vols/1572247904127/partcptn/timeCptn.do"
	idParam        = "progrmRegistNo"
	userAgent      = "Mozilla/5.0"

	// Program pages carry no imagery worth keeping; every record gets the
	// portal's app icon.
	defaultImageURL = "https://play-lh.googleusercontent.com/9Kheg_iekobkZlP9XzKtwv_j_YL88oVzHCtHe4_hIL3JcQabCL3FFEw4vKzL1XQc8GE"
)

var detailIDRe = regexp.MustCompile(`show\((\d+)\)`)

type idStore interface {
	ExistingQueryParamIDs(ctx context.Context, site domain.Site, param string) ([]int64, error)
}

type classifier interface {
	Classify(ctx context.Context, text string) domain.Keyword
}

type Config struct {
	BaseURL   string
	MaxPages  int
	BatchSize int
	Timeout   time.Duration
}

type Source struct {
	httpClient *http.Client
	baseURL    string
	maxPages   int
	batchSize  int
	store      idStore
	classify   classifier
	logger     *slog.Logger
}

func New(cfg Config, store idStore, classify classifier, logger *slog.Logger) *Source {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	return &Source{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		maxPages:   cfg.MaxPages,
		batchSize:  batchSize,
		store:      store,
		classify:   classify,
		logger:     logger.With("source", SourceName),
	}
}

func (s *Source) Name() string { return SourceName }

func (s *Source) Fetch(ctx context.Context) (domain.Batch, error) {
	lastPage, err := s.lastPage(ctx)
	if err != nil {
		return domain.Batch{}, &domain.FetchError{Site: domain.SiteV1365, URL: s.listingURL(0), Err: err}
	}

	startPage := lastPage - s.maxPages
	if startPage < 1 {
		startPage = 1
	}
	s.logger.Info("scanning trailing pages", "from", startPage, "to", lastPage)

	ids, err := s.collectIDs(ctx, startPage, lastPage)
	if err != nil {
		return domain.Batch{}, err
	}

	newIDs, err := s.filterKnown(ctx, ids)
	if err != nil {
		return domain.Batch{}, err
	}
	s.logger.Info("id collection finished", "seen", len(ids), "new", len(newIDs))
	if len(newIDs) == 0 {
		return domain.Batch{}, nil
	}

	activities, err := s.fetchDetails(ctx, newIDs)
	if err != nil {
		return domain.Batch{}, err
	}

	return domain.Batch{Activities: activities}, nil
}

// lastPage reads the page number the listing's last-page button links to.
func (s *Source) lastPage(ctx context.Context) (int, error) {
	doc, err := s.getDoc(ctx, s.listingURL(0))
	if err != nil {
		return 0, err
	}

	href, ok := doc.Find("a.btn_last").First().Attr("href")
	if !ok {
		return 0, fmt.Errorf("listing missing last-page button")
	}

	page, err := strconv.Atoi(href[strings.LastIndex(href, "=")+1:])
	if err != nil {
		return 0, fmt.Errorf("parse last page from %q: %w", href, err)
	}
	return page, nil
}

// collectIDs scans the page window in concurrent batches, batchSize pages at
// a time. A failed page fails the whole batch: a partial window would make
// the crawl silently skip programs.
func (s *Source) collectIDs(ctx context.Context, startPage, lastPage int) ([]int64, error) {
	var (
		mu  sync.Mutex
		ids []int64
	)

	for start := startPage; start <= lastPage; start += s.batchSize {
		end := start + s.batchSize - 1
		if end > lastPage {
			end = lastPage
		}

		g, gctx := errgroup.WithContext(ctx)
		for page := start; page <= end; page++ {
			g.Go(func() error {
				pageIDs, err := s.extractIDs(gctx, page)
				if err != nil {
					return &domain.FetchError{Site: domain.SiteV1365, URL: s.listingURL(page), Err: err}
				}
				mu.Lock()
				ids = append(ids, pageIDs...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func (s *Source) extractIDs(ctx context.Context, page int) ([]int64, error) {
	doc, err := s.getDoc(ctx, s.listingURL(page))
	if err != nil {
		return nil, err
	}

	var ids []int64
	doc.Find("ul.list_wrap.wrap2 a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		m := detailIDRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			ids = append(ids, id)
		}
	})

	return ids, nil
}

// filterKnown removes ids already stored and deduplicates the rest. Programs
// pinned across several listing pages show up more than once per scan.
func (s *Source) filterKnown(ctx context.Context, ids []int64) ([]int64, error) {
	existing, err := s.store.ExistingQueryParamIDs(ctx, domain.SiteV1365, idParam)
	if err != nil {
		return nil, fmt.Errorf("load known ids: %w", err)
	}

	known := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}

	var fresh []int64
	for _, id := range ids {
		if _, dup := known[id]; dup {
			continue
		}
		known[id] = struct{}{}
		fresh = append(fresh, id)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })

	return fresh, nil
}

// fetchDetails downloads detail pages in concurrent batches. A failed detail
// is logged and dropped so one broken program page cannot sink the run.
func (s *Source) fetchDetails(ctx context.Context, ids []int64) ([]domain.Activity, error) {
	var (
		mu         sync.Mutex
		activities []domain.Activity
	)

	for start := 0; start < len(ids); start += s.batchSize {
		end := start + s.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ids[start:end] {
			g.Go(func() error {
				activity, err := s.fetchDetail(gctx, id)
				if err != nil {
					s.logger.Warn("skipping program",
						"error", &domain.FetchError{Site: domain.SiteV1365, URL: s.detailURL(id), Err: err})
					return nil
				}
				mu.Lock()
				activities = append(activities, activity)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	sort.Slice(activities, func(i, j int) bool { return activities[i].SiteURL < activities[j].SiteURL })
	return activities, nil
}

func (s *Source) fetchDetail(ctx context.Context, id int64) (domain.Activity, error) {
	detailURL := s.detailURL(id)

	doc, err := s.getDoc(ctx, detailURL)
	if err != nil {
		return domain.Activity{}, err
	}

	name, ok := doc.Find("h3.tit_board_view input").First().Attr("value")
	if !ok || name == "" {
		return domain.Activity{}, fmt.Errorf("detail page missing title markup")
	}

	content := extractContent(doc)
	start, end := extractPeriod(doc)

	return domain.Activity{
		Site:      domain.SiteV1365,
		Type:      domain.TypeVolunteer,
		Name:      name,
		Content:   content,
		SiteURL:   detailURL,
		ImageURL:  defaultImageURL,
		Keyword:   s.classify.Classify(ctx, content),
		StartDate: start,
		EndDate:   end,
	}, nil
}

func extractContent(doc *goquery.Document) string {
	text := strings.TrimSpace(doc.Find("pre").First().Text())
	return strings.Join(strings.Fields(text), " ")
}

// extractPeriod reads the volunteering window from the "봉사기간" row. Dates
// arrive dot-separated, e.g. "2026.01.05 ~ 2026.02.27".
func extractPeriod(doc *goquery.Document) (start, end *time.Time) {
	doc.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if strings.TrimSpace(dt.Text()) != "봉사기간" {
			return true
		}

		from, to, found := strings.Cut(strings.TrimSpace(dt.Next().Text()), " ~ ")
		if !found {
			return false
		}

		if t, err := time.Parse("2006.01.02", strings.TrimSpace(from)); err == nil {
			start = &t
		}
		if t, err := time.Parse("2006.01.02", strings.TrimSpace(to)); err == nil {
			t = t.Add(24*time.Hour - time.Microsecond)
			end = &t
		}
		return false
	})

	return start, end
}

func (s *Source) listingURL(page int) string {
	url := s.baseURL + listingPath + "?requstSe=N&adultPosblAt=Y&yngbgsPosblAt=Y"
	if page > 0 {
		url += "&cPage=" + strconv.Itoa(page)
	}
	return url
}

func (s *Source) detailURL(id int64) string {
	return fmt.Sprintf("%s%s?type=show&%s=%d", s.baseURL, listingPath, idParam, id)
}

func (s *Source) getDoc(ctx context.Context, url string) (*goquery.Document, error) {
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

	return goquery.NewDocumentFromReader(resp.Body)
}
