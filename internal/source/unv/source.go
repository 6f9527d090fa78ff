// Package unv pulls volunteer openings from the UN Volunteers opportunity
// search API. The API exposes no incremental filter, so the full id list is
// fetched and trimmed locally against the highest id already stored.
package unv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"activity_fetcher/internal/domain"
)

const (
	SourceName = "unvolunteers"

	defaultAPIBaseURL = "https://app.unv.org/api/doa/doa"
	searchPath        = "/SearchDoaAsyncByAzureCognitive"
	publicURLBase     = "https://app.unv.org/opportunities/"
	userAgent         = "Mozilla/5.0"

	// UNV detail pages carry no usable imagery, so every record gets the
	// organization's channel avatar.
	defaultImageURL = "https://yt3.googleusercontent.com/ytc/AIdro_m9Ch_jB3G0voGzoFTOIWMxkpivX4xN9g3R_lnLHe9w6Uk=s900-c-k-c0x00ffffff-no-rj"
)

type watermarkStore interface {
	MaxPathID(ctx context.Context, site domain.Site) (int64, error)
}

type classifier interface {
	Classify(ctx context.Context, text string) domain.Keyword
}

type Config struct {
	APIBaseURL string
	Timeout    time.Duration
}

type Source struct {
	httpClient *http.Client
	apiBaseURL string
	store      watermarkStore
	classify   classifier
	logger     *slog.Logger
}

func New(cfg Config, store watermarkStore, classify classifier, logger *slog.Logger) *Source {
	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	return &Source{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiBaseURL: apiBaseURL,
		store:      store,
		classify:   classify,
		logger:     logger.With("source", SourceName),
	}
}

func (s *Source) Name() string { return SourceName }

type searchRequest struct {
	Take int `json:"take"`
	Skip int `json:"skip"`
}

type searchResponse struct {
	Value struct {
		Total  int `json:"total"`
		Result []struct {
			ID int64 `json:"id"`
		} `json:"result"`
	} `json:"value"`
}

type detailResponse struct {
	Value struct {
		Name                    string `json:"name"`
		OrganizationMission     string `json:"organizationMission"`
		Context                 string `json:"context"`
		TaskDescription         string `json:"taskDescription"`
		RequiredSkillExperience string `json:"requiredSkillExperience"`
		PublishDate             string `json:"publishDate"`
		SourcingEndDate         string `json:"sourcingEndDate"`
	} `json:"value"`
}

func (s *Source) Fetch(ctx context.Context) (domain.Batch, error) {
	watermark, err := s.store.MaxPathID(ctx, domain.SiteUNV)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("discover watermark: %w", err)
	}

	ids, err := s.fetchNewIDs(ctx, watermark)
	if err != nil {
		return domain.Batch{}, err
	}

	s.logger.Info("listing scanned", "watermark", watermark, "new", len(ids))

	var batch domain.Batch
	for _, id := range ids {
		activity, err := s.fetchDetail(ctx, id)
		if err != nil {
			s.logger.Warn("skipping opportunity",
				"error", &domain.FetchError{Site: domain.SiteUNV, URL: publicURLBase + strconv.FormatInt(id, 10), Err: err})
			continue
		}
		batch.Activities = append(batch.Activities, activity)
	}

	return batch, nil
}

// fetchNewIDs probes the search endpoint for the total opportunity count,
// then downloads the whole id list in one request and keeps ids above the
// watermark, oldest first.
func (s *Source) fetchNewIDs(ctx context.Context, watermark int64) ([]int64, error) {
	probe, err := s.search(ctx, searchRequest{Take: 1, Skip: 0})
	if err != nil {
		return nil, fmt.Errorf("probe total count: %w", err)
	}
	if probe.Value.Total == 0 {
		return nil, nil
	}

	full, err := s.search(ctx, searchRequest{Take: probe.Value.Total, Skip: 0})
	if err != nil {
		return nil, fmt.Errorf("fetch id list: %w", err)
	}

	var ids []int64
	for _, item := range full.Value.Result {
		if item.ID > watermark {
			ids = append(ids, item.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

func (s *Source) search(ctx context.Context, payload searchRequest) (searchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return searchResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBaseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return searchResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	var decoded searchResponse
	if err := s.doJSON(req, &decoded); err != nil {
		return searchResponse{}, err
	}
	return decoded, nil
}

func (s *Source) fetchDetail(ctx context.Context, id int64) (domain.Activity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%d", s.apiBaseURL, id), nil)
	if err != nil {
		return domain.Activity{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	var decoded detailResponse
	if err := s.doJSON(req, &decoded); err != nil {
		return domain.Activity{}, err
	}
	detail := decoded.Value

	content := fmt.Sprintf(
		"[Mission and objectives] : %s[Context] : %s[Task description] : %s[Required experience]: %s",
		detail.OrganizationMission, detail.Context, detail.TaskDescription, detail.RequiredSkillExperience)

	classifyInput := detail.OrganizationMission
	if classifyInput == "" {
		classifyInput = detail.Name
	}

	return domain.Activity{
		Site:     domain.SiteUNV,
		Type:     domain.TypeVolunteer,
		Name:     detail.Name,
		Content:  content,
		SiteURL:  publicURLBase + strconv.FormatInt(id, 10),
		ImageURL: defaultImageURL,
		Keyword:  s.classify.Classify(ctx, classifyInput),

		StartDate: parseISO(detail.PublishDate),
		EndDate:   parseISO(detail.SourcingEndDate),
	}, nil
}

func (s *Source) doJSON(req *http.Request, out any) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseISO(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
