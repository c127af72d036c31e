package domain

import (
	"time"
)

// DateLayout is the calendar day key used for summary records.
const DateLayout = "2006-01-02"

// ChannelSummary is the AI digest of one channel's reports for a cycle.
type ChannelSummary struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	TeamLabel   string `json:"subteam"`
	Summary     string `json:"summary"`
	ReportCount int    `json:"report_count"`
}

// SummaryRecord is the persisted outcome of one completed cycle.
type SummaryRecord struct {
	ID               int64            `json:"id"`
	Date             string           `json:"date"`
	MasterReport     string           `json:"master_report"`
	MeetingRecap     string           `json:"meeting_recap,omitempty"`
	ChannelSummaries []ChannelSummary `json:"channel_summaries"`
	TotalReports     int              `json:"total_reports"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NewSummaryRecord builds a record for date, deriving TotalReports from the
// channel summaries.
func NewSummaryRecord(date, master, recap string, summaries []ChannelSummary, createdAt time.Time) *SummaryRecord {
	total := 0
	for _, s := range summaries {
		total += s.ReportCount
	}
	return &SummaryRecord{
		Date:             date,
		MasterReport:     master,
		MeetingRecap:     recap,
		ChannelSummaries: summaries,
		TotalReports:     total,
		CreatedAt:        createdAt,
	}
}

// Day parses the record date. The zero time is returned for malformed dates.
func (r *SummaryRecord) Day() time.Time {
	t, err := time.Parse(DateLayout, r.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReportNoun returns "report" or "reports" for n.
func ReportNoun(n int) string {
	if n == 1 {
		return "report"
	}
	return "reports"
}
