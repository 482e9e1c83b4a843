package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an optimistic-concurrency check fails,
// i.e. the row changed between read and write.
var ErrConflict = errors.New("write conflict")

// Submission statuses. A submission advances received -> extracting ->
// processing -> published|failed; only the retry orchestrator moves a
// failed submission back to extracting.
const (
	StatusReceived   = "received"
	StatusExtracting = "extracting"
	StatusProcessing = "processing"
	StatusPublished  = "published"
	StatusFailed     = "failed"
)

// ValidStatus reports whether s is one of the submission statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusReceived, StatusExtracting, StatusProcessing, StatusPublished, StatusFailed:
		return true
	}
	return false
}

// PhoneNumberWeb is the sentinel origin for submissions that arrived
// through the web form rather than a phone channel.
const PhoneNumberWeb = "web"

type Submission struct {
	ID          string
	PhoneNumber string
	RawMessage  string
	URL         string
	SourceType  string
	Status      string
	LastError   string
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Retryable reports whether the submission is eligible for another
// automatic attempt.
func (s Submission) Retryable() bool {
	return s.Status == StatusFailed && s.Attempts < s.MaxAttempts
}

type Tutorial struct {
	ID             string
	Slug           string
	Title          string
	Summary        string
	Body           string
	ActionItems    []string
	MaturityLevel  int
	LevelRelation  string
	Topics         []string
	Tags           []string
	ToolsMentioned []string
	Difficulty     string
	SourceURLs     []string
	SourceCount    int
	ImageURL       string
	IsPublished    bool
	IsStale        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TutorialFilter narrows ListTutorials results. Zero values mean "no filter".
type TutorialFilter struct {
	Topic         string
	Difficulty    string
	PublishedOnly bool
	Limit         int
	Offset        int
}
