package slackbot

import (
	"fmt"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/slack-go/slack"

	"github.com/NathanEdg/SpikeReports/internal/domain"
)

const (
	// Slack rejects section text longer than this.
	maxSectionText   = 3000
	previewLength    = 300
	viewActionPrefix = "view_summary_"
	displayDate      = "January 2, 2006"

	// Slack rejects views with more blocks than this.
	maxViewBlocks = 100
	// The dashboard has three header blocks, three blocks per summary and
	// one trailing "showing N of M" line.
	maxHomeSummaries = (maxViewBlocks - 3 - 1) / 3
)

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, truncate(text, maxSectionText), false, false)
}

func section(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(mrkdwn(text), nil, nil)
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	return string([]rune(s)[:previewLength]) + "..."
}

func formatDate(rec *domain.SummaryRecord) string {
	day := rec.Day()
	if day.IsZero() {
		return rec.Date
	}
	return day.Format(displayDate)
}

func teamSection(cs domain.ChannelSummary) *slack.SectionBlock {
	return section(fmt.Sprintf("*%s* (%d %s)\n%s",
		cs.TeamLabel, cs.ReportCount, domain.ReportNoun(cs.ReportCount), cs.Summary))
}

// CollectionPromptBlocks renders the message that opens a collection thread.
func CollectionPromptBlocks(team, summaryTime string) []slack.Block {
	return []slack.Block{
		slack.NewHeaderBlock(plain("📝 Daily Report - " + team)),
		section("Please reply to this thread with what you accomplished today!"),
		slack.NewDividerBlock(),
		section(fmt.Sprintf("_Your report will be collected and summarized at %s._", summaryTime)),
	}
}

// MasterReportBlocks renders the cycle's master report and team summaries.
func MasterReportBlocks(rec *domain.SummaryRecord) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("📊 Daily Master Report")),
		section(rec.MasterReport),
		slack.NewDividerBlock(),
		section("*Team Summaries:*"),
	}
	for _, cs := range rec.ChannelSummaries {
		blocks = append(blocks, teamSection(cs))
	}
	return blocks
}

// RecapBlocks renders the threaded meeting recap.
func RecapBlocks(recap string) []slack.Block {
	return []slack.Block{section(recap)}
}

// HomeView renders the App Home dashboard of recent summaries.
func HomeView(summaries []domain.SummaryRecord, total int64) slack.HomeTabViewRequest {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("📊 Daily Report Summaries Dashboard")),
		section(fmt.Sprintf("View all generated daily report summaries. Total summaries: *%s*", humanize.Comma(total))),
		slack.NewDividerBlock(),
	}

	if len(summaries) > maxHomeSummaries {
		summaries = summaries[:maxHomeSummaries]
	}
	if len(summaries) == 0 {
		blocks = append(blocks, section("_No summaries available yet. Summaries will appear here after the first daily report is generated._"))
	}
	for i := range summaries {
		rec := &summaries[i]
		id := fmt.Sprintf("%s%d", viewActionPrefix, rec.ID)
		button := slack.NewButtonBlockElement(id, id, plain("View Details"))
		blocks = append(blocks,
			slack.NewSectionBlock(
				mrkdwn(fmt.Sprintf("*📅 %s*\n_%s total %s_", formatDate(rec), humanize.Comma(int64(rec.TotalReports)), domain.ReportNoun(rec.TotalReports))),
				nil,
				slack.NewAccessory(button),
			),
			slack.NewContextBlock("",
				mrkdwn(preview(rec.MasterReport)),
				mrkdwn("Generated "+humanize.Time(rec.CreatedAt)),
			),
			slack.NewDividerBlock(),
		)
	}
	if shown := int64(len(summaries)); shown > 0 && shown < total {
		blocks = append(blocks, slack.NewContextBlock("",
			mrkdwn(fmt.Sprintf("Showing the %d most recent of %s summaries.", shown, humanize.Comma(total))),
		))
	}

	return slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: blocks},
	}
}

// SummaryModal renders the detail view of one summary.
func SummaryModal(rec *domain.SummaryRecord) slack.ModalViewRequest {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("📊 Report for " + formatDate(rec))),
		section(fmt.Sprintf("*Total Reports:* %d", rec.TotalReports)),
		slack.NewDividerBlock(),
		section("*Master Summary*"),
		section(rec.MasterReport),
		slack.NewDividerBlock(),
		section("*Team Summaries*"),
	}
	for _, cs := range rec.ChannelSummaries {
		blocks = append(blocks, teamSection(cs))
	}
	if rec.MeetingRecap != "" {
		blocks = append(blocks,
			slack.NewDividerBlock(),
			section("*Meeting Summary*"),
			section(rec.MeetingRecap),
		)
	}

	return slack.ModalViewRequest{
		Type:   slack.VTModal,
		Title:  plain("Daily Report Details"),
		Close:  plain("Close"),
		Blocks: slack.Blocks{BlockSet: blocks},
	}
}
