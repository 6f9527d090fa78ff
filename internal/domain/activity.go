package domain

import "time"

// Site identifies the external source a record was crawled from. Values match
// the activity_site column in the database.
type Site string

const (
	SiteBBC      Site = "BBC"
	SiteIdealist Site = "IDEALIST"
	SiteUNV      Site = "UNVOLUNTEERS"
	SiteV1365    Site = "KRVOLUNTEERS"
	SiteWevity   Site = "WEVITY"
)

type ActivityType string

const (
	TypeVolunteer  ActivityType = "VOLUNTEER"
	TypeInternship ActivityType = "INTERNSHIP"
	TypeContest    ActivityType = "CONTEST"
	TypeSupporters ActivityType = "SUPPORTERS"
)

// Keyword is the single label assigned by the enrichment service.
type Keyword string

const (
	KeywordEconomy          Keyword = "Economy"
	KeywordEnvironment      Keyword = "Environment"
	KeywordPeopleAndSociety Keyword = "PeopleAndSociety"
	KeywordTechnology       Keyword = "Technology"

	// DefaultKeyword is returned whenever enrichment is unavailable or the
	// service answers with something outside the allowed set.
	DefaultKeyword = KeywordPeopleAndSociety
)

// Keywords lists every valid label, in the order presented to the service.
var Keywords = []Keyword{
	KeywordEconomy,
	KeywordEnvironment,
	KeywordPeopleAndSociety,
	KeywordTechnology,
}

// ValidKeyword reports whether s is one of the allowed labels.
func ValidKeyword(s string) bool {
	for _, k := range Keywords {
		if string(k) == s {
			return true
		}
	}
	return false
}

// Activity is one normalized listing from an external source.
//
// SiteURL is the natural key: re-inserting an activity with an already stored
// SiteURL is a silent no-op. ID is the database surrogate key, assigned at
// insert time.
type Activity struct {
	ID        int64        `db:"activity_id"`
	Site      Site         `db:"activity_site"`
	Type      ActivityType `db:"activity_type"`
	Content   string       `db:"activity_content"`
	Name      string       `db:"activity_name"`
	SiteURL   string       `db:"site_url"`
	ImageURL  string       `db:"activity_image_url"`
	Keyword   Keyword      `db:"keyword"`
	StartDate *time.Time   `db:"start_date"`
	EndDate   *time.Time   `db:"end_date"`
	CreatedAt time.Time    `db:"created_at"`
}

// Active reports whether the activity's date window contains now. A nil bound
// is unbounded on that side.
func (a Activity) Active(now time.Time) bool {
	if a.StartDate != nil && now.Before(*a.StartDate) {
		return false
	}
	if a.EndDate != nil && now.After(*a.EndDate) {
		return false
	}
	return true
}

// Issue is one news item. Shape-compatible with Activity but carries a single
// publish date instead of a window and has no activity type.
type Issue struct {
	ID        int64     `db:"issue_id"`
	Content   string    `db:"content"`
	ImageURL  string    `db:"image_url"`
	IssueDate time.Time `db:"issue_date"`
	Keyword   Keyword   `db:"keyword"`
	SiteURL   string    `db:"site_url"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
}

// Batch is one source's normalized output for a single crawl pass. A source
// fills either slice depending on what it produces.
type Batch struct {
	Activities []Activity
	Issues     []Issue
}

func (b Batch) Empty() bool {
	return len(b.Activities) == 0 && len(b.Issues) == 0
}
