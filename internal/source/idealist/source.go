// Package idealist pulls volunteer and internship postings from Idealist's
// Algolia multi-query endpoint. Incrementality is server side: the query
// filter restricts results to postings published after the stored watermark.
package idealist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"activity_fetcher/internal/domain"
)

const (
	SourceName = "idealist"

	defaultEndpoint = "https://nsv3auess7-dsn.algolia.net/1/indexes/*/queries"

	// Idealist's public search credentials, the same ones its frontend ships.
	defaultAppID  = "NSV3AUESS7"
	defaultAPIKey = "c2730ea10ab82787f2f3cc961e8c1e06"

	volunteerIndex  = "idealist7-production-action-opps"
	internshipIndex = "idealist7-production"

	hitsPerPage = 100

	defaultImageURL = "https://www.idealist.org/assets/417d88fd628db1c1ac861f3ea8db58c1a159d52a/images/icons/action-opps/action-opps-volunteermatch.svg"
)

type watermarkStore interface {
	MaxStartDate(ctx context.Context, site domain.Site) (time.Time, error)
}

type classifier interface {
	Classify(ctx context.Context, text string) domain.Keyword
}

type Config struct {
	Endpoint string
	AppID    string
	APIKey   string
	Timeout  time.Duration
}

type Source struct {
	httpClient *http.Client
	endpoint   string
	appID      string
	apiKey     string
	store      watermarkStore
	classify   classifier
	logger     *slog.Logger
}

func New(cfg Config, store watermarkStore, classify classifier, logger *slog.Logger) *Source {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	appID := cfg.AppID
	if appID == "" {
		appID = defaultAppID
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = defaultAPIKey
	}

	return &Source{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   endpoint,
		appID:      appID,
		apiKey:     apiKey,
		store:      store,
		classify:   classify,
		logger:     logger.With("source", SourceName),
	}
}

func (s *Source) Name() string { return SourceName }

// searchQuery is a single entry of an Algolia multi-query request.
type searchQuery struct {
	IndexName            string   `json:"indexName"`
	Facets               []string `json:"facets"`
	HitsPerPage          int      `json:"hitsPerPage"`
	AttributesToSnippet  []string `json:"attributesToSnippet"`
	AttributesToRetrieve []string `json:"attributesToRetrieve"`
	Filters              string   `json:"filters"`
	RemoveStopWords      bool     `json:"removeStopWords"`
	IgnorePlurals        bool     `json:"ignorePlurals"`
	AdvancedSyntax       bool     `json:"advancedSyntax"`
	QueryLanguages       []string `json:"queryLanguages"`
	Page                 int      `json:"page"`
	Query                string   `json:"query"`
}

type searchRequest struct {
	Requests []searchQuery `json:"requests"`
}

type hit struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImageURL    string          `json:"imageUrl"`
	Published   int64           `json:"published"`
	URL         json.RawMessage `json:"url"`
}

type searchResponse struct {
	Results []struct {
		Hits []hit `json:"hits"`
	} `json:"results"`
}

// segment describes one of the two posting categories Idealist serves from
// separate Algolia indices.
type segment struct {
	index        string
	filterFormat string
	activityType domain.ActivityType
}

var segments = []segment{
	{index: volunteerIndex, filterFormat: "actionType:'VOLOP' AND published > %d", activityType: domain.TypeVolunteer},
	{index: internshipIndex, filterFormat: "type:'INTERNSHIP' AND published > %d", activityType: domain.TypeInternship},
}

func (s *Source) Fetch(ctx context.Context) (domain.Batch, error) {
	lastStart, err := s.store.MaxStartDate(ctx, domain.SiteIdealist)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("discover watermark: %w", err)
	}

	var watermark int64
	if !lastStart.IsZero() {
		watermark = lastStart.Unix()
	}
	s.logger.Info("listing started", "published_after", watermark)

	var batch domain.Batch
	for _, seg := range segments {
		activities, err := s.fetchSegment(ctx, seg, watermark)
		if err != nil {
			return domain.Batch{}, err
		}
		batch.Activities = append(batch.Activities, activities...)
	}

	return batch, nil
}

// fetchSegment pages through one index until a page comes back empty. The
// published filter makes re-runs cheap: an up-to-date store yields a single
// empty page per segment.
func (s *Source) fetchSegment(ctx context.Context, seg segment, watermark int64) ([]domain.Activity, error) {
	var activities []domain.Activity

	for page := 0; ; page++ {
		hits, err := s.searchPage(ctx, seg, watermark, page)
		if err != nil {
			return nil, &domain.FetchError{Site: domain.SiteIdealist, URL: s.endpoint, Err: err}
		}
		if len(hits) == 0 {
			break
		}

		for _, h := range hits {
			activities = append(activities, s.toActivity(ctx, seg, h))
		}
	}

	return activities, nil
}

func (s *Source) searchPage(ctx context.Context, seg segment, watermark int64, page int) ([]hit, error) {
	payload := searchRequest{Requests: []searchQuery{{
		IndexName:            seg.index,
		Facets:               []string{"*"},
		HitsPerPage:          hitsPerPage,
		AttributesToSnippet:  []string{"description:20"},
		AttributesToRetrieve: []string{"*"},
		Filters:              fmt.Sprintf(seg.filterFormat, watermark),
		RemoveStopWords:      true,
		IgnorePlurals:        true,
		AdvancedSyntax:       true,
		QueryLanguages:       []string{"en"},
		Page:                 page,
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-algolia-application-id", s.appID)
	req.Header.Set("x-algolia-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Results) == 0 {
		return nil, nil
	}
	return decoded.Results[0].Hits, nil
}

func (s *Source) toActivity(ctx context.Context, seg segment, h hit) domain.Activity {
	imageURL := h.ImageURL
	if imageURL == "" {
		imageURL = defaultImageURL
	}

	published := time.Unix(h.Published, 0).UTC()

	return domain.Activity{
		Site:      domain.SiteIdealist,
		Type:      seg.activityType,
		Name:      h.Name,
		Content:   h.Description,
		SiteURL:   resolveURL(h.URL),
		ImageURL:  imageURL,
		Keyword:   s.classify.Classify(ctx, h.Description),
		StartDate: &published,
	}
}

// resolveURL handles the two shapes the url field arrives in: a plain string,
// or a locale map of relative paths.
func resolveURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}

	var byLocale map[string]string
	if err := json.Unmarshal(raw, &byLocale); err == nil {
		for _, path := range byLocale {
			return "https://www.idealist.org" + path
		}
	}
	return ""
}
