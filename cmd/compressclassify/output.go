package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

var (
	colorAccent = lipgloss.Color("#2CD7C7")
	colorBorder = lipgloss.Color("#16858E")
	colorWarn   = lipgloss.Color("#F4D03F")
	colorError  = lipgloss.Color("#E74C3C")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError)
)

// printer renders tables with lipgloss on a terminal and as tab separated
// lines everywhere else.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return printer{w: w, styled: styled}
}

func (p printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return style.Render(text)
}

func (p printer) title(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(titleStyle, fmt.Sprintf(format, args...)))
}

func (p printer) table(headers []string, rows [][]string) {
	if !p.styled {
		fmt.Fprintln(p.w, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(p.w, t.String())
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

func (p printer) evaluation(report domain.EvaluationReport) {
	p.title("accuracy %s (%d/%d), undetermined %d, run %s",
		percent(report.Accuracy()), report.Correct, report.Total, report.Undetermined, report.RunID)

	rows := make([][]string, 0, len(report.PerCategory))
	for _, category := range report.CategoriesByAccuracy() {
		stats := report.PerCategory[category]
		rows = append(rows, []string{
			category,
			percent(stats.Accuracy()),
			strconv.Itoa(stats.Correct),
			strconv.Itoa(stats.Total),
			strconv.Itoa(stats.Undetermined),
		})
	}
	p.table([]string{"category", "accuracy", "correct", "total", "undetermined"}, rows)
}

func (p printer) selections(reports []domain.SelectionReport) {
	rows := make([][]string, 0, len(reports))
	for _, report := range reports {
		note := ""
		switch {
		case report.Error != "":
			note = p.render(errorStyle, report.Error)
		case report.Shortfall:
			note = p.render(warnStyle, "pool smaller than core size")
		}
		rows = append(rows, []string{
			report.Category,
			strconv.Itoa(len(report.Selected)),
			strconv.Itoa(report.PoolSize),
			strconv.Itoa(report.FailedCells),
			note,
		})
	}
	p.table([]string{"category", "selected", "pool", "failed_cells", "note"}, rows)
}

func (p printer) refinement(report domain.RefinementReport) {
	p.title("%s: %s at iteration %d, best accuracy %s, core %d/%d",
		report.Category, report.Status, report.Iteration, percent(report.BestAccuracy),
		len(report.Selected), report.TargetSize)
	if report.Resumed {
		fmt.Fprintln(p.w, "resumed from checkpoint")
	}
	if report.CheckpointDiscarded {
		fmt.Fprintln(p.w, p.render(warnStyle, "corrupt checkpoint discarded"))
	}
	if len(report.Steps) > 0 {
		rows := make([][]string, 0, len(report.Steps))
		for _, step := range report.Steps {
			rows = append(rows, []string{
				strconv.Itoa(step.Iteration),
				step.Accepted,
				percent(step.Accuracy),
				strconv.Itoa(step.Trials),
				strconv.Itoa(step.FailedTrials),
			})
		}
		p.table([]string{"iteration", "accepted", "accuracy", "trials", "failed"}, rows)
	}
	fmt.Fprintln(p.w, "core:", strings.Join(report.Selected, ", "))
}

func (p printer) runs(runs []domain.EvaluationReport) {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		worst, _ := run.WorstCategory()
		rows = append(rows, []string{
			run.RunID,
			run.StartedAt.Local().Format(time.DateTime),
			percent(run.Accuracy()),
			strconv.Itoa(run.Total),
			strconv.Itoa(run.Undetermined),
			worst,
		})
	}
	p.table([]string{"run", "started", "accuracy", "total", "undetermined", "worst"}, rows)
}

func (p printer) failures(failures map[string]string) {
	categories := make([]string, 0, len(failures))
	for category := range failures {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(p.w, "%s: %s\n", category, p.render(errorStyle, failures[category]))
	}
}
