package idealist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity_fetcher/internal/domain"
)

type stubStore struct{ lastStart time.Time }

func (s *stubStore) MaxStartDate(context.Context, domain.Site) (time.Time, error) {
	return s.lastStart, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, string) domain.Keyword {
	return domain.KeywordEconomy
}

func hitJSON(name string, published int64, url any) map[string]any {
	return map[string]any{
		"name":        name,
		"description": "description of " + name,
		"imageUrl":    "",
		"published":   published,
		"url":         url,
	}
}

func pageResponse(hits ...map[string]any) string {
	if hits == nil {
		hits = []map[string]any{}
	}
	b, _ := json.Marshal(map[string]any{"results": []any{map[string]any{"hits": hits}}})
	return string(b)
}

func newTestSource(t *testing.T, handler http.Handler, lastStart time.Time) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(
		Config{Endpoint: srv.URL, AppID: "TEST", APIKey: "test-key", Timeout: 5 * time.Second},
		&stubStore{lastStart: lastStart},
		stubClassifier{},
		logger,
	)
}

func TestFetch_BothSegmentsWithWatermarkFilter(t *testing.T) {
	var filters []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Requests, 1)
		q := payload.Requests[0]

		if q.Page > 0 {
			fmt.Fprint(w, pageResponse())
			return
		}
		filters = append(filters, q.Filters)

		switch q.IndexName {
		case volunteerIndex:
			fmt.Fprint(w, pageResponse(hitJSON("beach cleanup", 1767225600, "https://www.idealist.org/en/volop/abc")))
		case internshipIndex:
			fmt.Fprint(w, pageResponse(hitJSON("ngo internship", 1767312000, map[string]string{"en": "/en/internship/xyz"})))
		default:
			t.Errorf("unexpected index %q", q.IndexName)
		}
	})

	lastStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := newTestSource(t, handler, lastStart)

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)

	wantStamp := lastStart.Unix()
	assert.Equal(t, []string{
		fmt.Sprintf("actionType:'VOLOP' AND published > %d", wantStamp),
		fmt.Sprintf("type:'INTERNSHIP' AND published > %d", wantStamp),
	}, filters)

	require.Len(t, batch.Activities, 2)

	vol := batch.Activities[0]
	assert.Equal(t, domain.TypeVolunteer, vol.Type)
	assert.Equal(t, "https://www.idealist.org/en/volop/abc", vol.SiteURL)
	assert.Equal(t, defaultImageURL, vol.ImageURL)
	require.NotNil(t, vol.StartDate)
	assert.Equal(t, int64(1767225600), vol.StartDate.Unix())

	intern := batch.Activities[1]
	assert.Equal(t, domain.TypeInternship, intern.Type)
	assert.Equal(t, "https://www.idealist.org/en/internship/xyz", intern.SiteURL)
}

func TestFetch_EmptyStoreQueriesFromZero(t *testing.T) {
	var filters []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		filters = append(filters, payload.Requests[0].Filters)
		fmt.Fprint(w, pageResponse())
	})

	src := newTestSource(t, handler, time.Time{})

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	assert.Contains(t, filters[0], "published > 0")
}

func TestFetch_PaginatesUntilEmptyPage(t *testing.T) {
	pages := map[int]int{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		q := payload.Requests[0]

		if q.IndexName == internshipIndex {
			fmt.Fprint(w, pageResponse())
			return
		}
		pages[q.Page]++
		if q.Page < 2 {
			fmt.Fprint(w, pageResponse(hitJSON(fmt.Sprintf("p%d", q.Page), 1767225600, "u")))
			return
		}
		fmt.Fprint(w, pageResponse())
	})

	src := newTestSource(t, handler, time.Time{})

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Activities, 2)
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, pages)
}

func TestFetch_HTTPErrorAborts(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	src := newTestSource(t, handler, time.Time{})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, domain.SiteIdealist, fetchErr.Site)
}
