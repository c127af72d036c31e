package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/NathanEdg/SpikeReports/internal/domain"
)

// Completer produces a completion for a list of chat messages.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Summarizer builds the three prompts the bot uses: a per-channel summary,
// a cross-team master report, and a structured meeting recap.
type Summarizer struct {
	completer Completer
}

// New creates a Summarizer that sends prompts to completer.
func New(completer Completer) *Summarizer {
	return &Summarizer{completer: completer}
}

// SummarizeChannel condenses one channel's reports, in submission order.
func (s *Summarizer) SummarizeChannel(ctx context.Context, teamLabel string, reports []domain.CollectedReport) (string, error) {
	if len(reports) == 0 {
		return fmt.Sprintf("No reports submitted for %s.", teamLabel), nil
	}

	entries := make([]string, len(reports))
	for i, r := range reports {
		entries[i] = fmt.Sprintf("**%s**: %s", r.DisplayName, r.Body)
	}

	prompt := fmt.Sprintf(`Summarize the following daily reports from the %s team.

Team reports:
%s

Create a concise 2-3 sentence summary covering:
- Main accomplishments
- Any blockers or challenges
- Key themes

Write ONLY the summary. Do not include meta-commentary, notes, or explanations about your process.`,
		teamLabel, strings.Join(entries, "\n\n"))

	slog.Info("Generating channel summary", "team", teamLabel, "reports", len(reports))
	return s.completer.Complete(ctx, userPrompt(prompt))
}

// MasterReport writes an executive summary across all channel summaries.
func (s *Summarizer) MasterReport(ctx context.Context, summaries []domain.ChannelSummary) (string, error) {
	if len(summaries) == 0 {
		return "No reports were submitted today.", nil
	}

	entries := make([]string, len(summaries))
	for i, cs := range summaries {
		entries[i] = fmt.Sprintf("**%s**:\n%s", cs.TeamLabel, cs.Summary)
	}

	prompt := fmt.Sprintf(`Create a master daily report from these team summaries:

%s

Write a brief executive summary (2-3 paragraphs) covering:
1. Overall accomplishments across all teams today
2. Any cross-team themes or patterns
3. Notable blockers or challenges

Write ONLY the executive summary. Do not include notes, meta-commentary, placeholders, or instructions.`,
		strings.Join(entries, "\n\n"))

	slog.Info("Generating master report", "teams", len(summaries))
	return s.completer.Complete(ctx, userPrompt(prompt))
}

// MeetingRecap answers the fixed meeting questions from the channel summaries.
func (s *Summarizer) MeetingRecap(ctx context.Context, summaries []domain.ChannelSummary) (string, error) {
	if len(summaries) == 0 {
		return "No meeting data available.", nil
	}

	entries := make([]string, len(summaries))
	for i, cs := range summaries {
		entries[i] = fmt.Sprintf("**%s** (%d %s):\n%s",
			cs.TeamLabel, cs.ReportCount, domain.ReportNoun(cs.ReportCount), cs.Summary)
	}

	prompt := fmt.Sprintf(`Based on the following team summaries, answer the questions:

1. What was accomplished in the previous meeting?
2. Which goals were met or not met, and why?
3. Identify any blockers or risks.
4. What are the next-meeting goals and projected milestones?

Team Summaries:
%s

Provide concise bullet points for each question.`,
		strings.Join(entries, "\n\n"))

	slog.Info("Generating meeting recap", "teams", len(summaries))
	return s.completer.Complete(ctx, userPrompt(prompt))
}

func userPrompt(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}
