package crawler

import (
	"fmt"
	"strings"
)

// ListingReference points at one job posting discovered on a listing page.
type ListingReference struct {
	// URL is the absolute detail page URL.
	URL string `json:"url"`
	// Source is the path suffix whose listing page produced the reference.
	Source string `json:"source"`
	// Website is the site schema name.
	Website string `json:"website"`
	// Title and Company are best-effort listing-level values; either may be empty.
	Title   string `json:"job_name,omitempty"`
	Company string `json:"company_name,omitempty"`
}

// JobRecord is a fully extracted job posting ready to be persisted.
type JobRecord struct {
	URL         string   `json:"url"`
	Website     string   `json:"website"`
	Title       string   `json:"job_name"`
	Company     string   `json:"company_name"`
	Description string   `json:"job_description,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	PublishedAt string   `json:"publication_date,omitempty"`
}

// Location flattens Locations into the single string the job API accepts.
func (r JobRecord) Location() string {
	return strings.Join(r.Locations, ", ")
}

// OutcomeKind classifies a persistence attempt.
type OutcomeKind string

// Save outcome kinds.
const (
	OutcomeSaved     OutcomeKind = "saved"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeFailed    OutcomeKind = "failed"
)

// SaveOutcome is the terminal result of saving one JobRecord.
type SaveOutcome struct {
	Kind OutcomeKind
	// ID is set for saved records.
	ID string
	// Reason is set for failed records.
	Reason string
}

// Saved reports a record created with the given id.
func Saved(id string) SaveOutcome {
	return SaveOutcome{Kind: OutcomeSaved, ID: id}
}

// Duplicate reports a record the job API already holds.
func Duplicate() SaveOutcome {
	return SaveOutcome{Kind: OutcomeDuplicate}
}

// Failed reports a record that could not be saved after all retries.
func Failed(reason string) SaveOutcome {
	return SaveOutcome{Kind: OutcomeFailed, Reason: reason}
}

func (o SaveOutcome) String() string {
	switch o.Kind {
	case OutcomeSaved:
		return fmt.Sprintf("saved(%s)", o.ID)
	case OutcomeFailed:
		return fmt.Sprintf("failed(%s)", o.Reason)
	default:
		return string(o.Kind)
	}
}
