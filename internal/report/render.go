package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/ragbench/internal/evaluation"
	"github.com/fyrsmithlabs/ragbench/internal/regression"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	displayTime     = "2006-01-02 15:04:05"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// RenderLeaderboard draws one line per run: id, time, strategy and metrics.
func RenderLeaderboard(rows []LeaderboardRow) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("RAGBench runs"))
	b.WriteString("\n")
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("no runs recorded"))
		b.WriteString("\n")
		return b.String()
	}

	for _, row := range rows {
		parts := make([]string, 0, len(row.Metrics))
		for _, m := range row.Metrics {
			parts = append(parts, labelStyle.Render(m.Name+"=")+valueStyle.Render(formatValue(m.Value)))
		}
		fmt.Fprintf(&b, "%s  %s  %-6s  %s\n",
			row.RunID,
			dimStyle.Render(formatTime(row.CreatedAt)),
			row.Retriever,
			strings.Join(parts, " "),
		)
	}
	return b.String()
}

// RenderCompare draws a sparkline and the latest value for each series.
func RenderCompare(metric string, series []Series) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Compare " + metric))
	b.WriteString("\n")
	if len(series) == 0 {
		b.WriteString(dimStyle.Render("no runs carry " + metric))
		b.WriteString("\n")
		return b.String()
	}

	for _, s := range series {
		values := s.Values()
		latest := values[len(values)-1]
		fmt.Fprintf(&b, "%s %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-6s", s.Retriever)),
			valueStyle.Render(formatValue(latest)),
			dimStyle.Render(fmt.Sprintf("(%d runs)", len(values))),
		)
		b.WriteString(renderSparkline(values))
		b.WriteString("\n")
	}
	return b.String()
}

func renderSparkline(data []float64) string {
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// RenderRegression summarizes a detector result with a status badge.
func RenderRegression(res regression.Result) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Regression guard"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", statusBadge(res.Status), string(res.Status))
	fmt.Fprintf(&b, "%s %s  %s %s  %s %s\n",
		labelStyle.Render("metric"), res.Metric,
		labelStyle.Render("retriever"), res.Retriever,
		labelStyle.Render("tolerance"), formatValue(res.Tolerance),
	)
	fmt.Fprintf(&b, "%s %d (min %d)\n", labelStyle.Render("comparable runs"), res.Considered, res.MinHistory)
	if res.Latest != nil && res.Best != nil {
		fmt.Fprintf(&b, "%s %s %s\n", labelStyle.Render("latest"), valueStyle.Render(formatValue(res.Latest.Value)), dimStyle.Render(res.Latest.RunID))
		fmt.Fprintf(&b, "%s %s %s\n", labelStyle.Render("best"), valueStyle.Render(formatValue(res.Best.Value)), dimStyle.Render(res.Best.RunID))
		fmt.Fprintf(&b, "%s %+.4f\n", labelStyle.Render("delta"), res.Delta())
	}
	return b.String()
}

// RenderSignatures lists one signature per line.
func RenderSignatures(retriever string, rows []SignatureRow) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Recent " + retriever + " signatures"))
	b.WriteString("\n")
	for _, row := range rows {
		sig := "(none)"
		if len(row.Signature) > 0 {
			sig = string(row.Signature)
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", dimStyle.Render(formatTime(row.CreatedAt)), row.RunID, sig)
	}
	return b.String()
}

// RenderAnalysis shows the ranking of one query, marking relevant chunks.
func RenderAnalysis(retriever string, a evaluation.Analysis) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Analysis " + retriever))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("query"), a.Query)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("relevant"), strings.Join(a.RelevantIDs, ", "))
	for _, row := range a.Rows {
		mark := dimStyle.Render(" ")
		if row.Relevant {
			mark = healthyStyle.Render("*")
		}
		fmt.Fprintf(&b, "%s %2d %s %s %s\n", mark, row.Rank,
			valueStyle.Render(formatValue(row.Score)), row.ChunkID, dimStyle.Render("["+row.Label+"]"))
	}
	if a.Hit {
		fmt.Fprintf(&b, "%s first relevant at rank %d\n", healthyStyle.Render("hit"), a.HitRank)
	} else {
		fmt.Fprintf(&b, "%s no relevant chunk in top %d\n", errorStyle.Render("miss"), a.K)
		if a.Why != "" {
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("why"), a.Why)
		}
	}
	return b.String()
}

func statusBadge(s regression.Status) string {
	switch s {
	case regression.StatusOK:
		return healthyStyle.Render("[✓]")
	case regression.StatusRegression:
		return errorStyle.Render("[✗]")
	default:
		return warningStyle.Render("[⚠]")
	}
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(displayTime)
}
