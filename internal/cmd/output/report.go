package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/report"
)

// FormatReport writes a report in the requested format. Tables render the
// summary, the per-asset lines and, when present, the session notes.
func FormatReport(w io.Writer, r *report.Report, format Format) error {
	switch format {
	case FormatJSON, FormatYAML:
		return NewFormatter(format).Format(w, r)
	}

	f := &TableFormatter{}
	sections := []Data{SummaryData(r), AssetsData(r, format == FormatWide)}
	if len(r.Notes) > 0 {
		sections = append(sections, NotesData(r))
	}
	for i, data := range sections {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := f.Format(w, data); err != nil {
			return err
		}
	}
	return nil
}

// SummaryData is the run metadata and the outcome counts.
func SummaryData(r *report.Report) Data {
	s := r.Summary
	return Data{
		Headers: []string{"Run", r.Meta.RunID},
		Rows: [][]string{
			{"Phase", string(r.Meta.Phase)},
			{"Mode", r.Meta.Mode},
			{"Threshold", formatConfidence(r.Meta.Threshold)},
			{"Methods", strings.Join(r.Meta.Methods, ",")},
			{"Generated", r.Meta.GeneratedAt.Format(constants.TimeFormatHuman)},
			{"Total orphaned", strconv.Itoa(s.Total)},
			{"Auto-committed", strconv.Itoa(s.AutoCommitted)},
			{"Already reconciled", strconv.Itoa(s.AlreadyReconciled)},
			{"Would commit", strconv.Itoa(s.WouldCommit)},
			{"Pending review", strconv.Itoa(s.Pending)},
			{"Failed", strconv.Itoa(s.Failed)},
			{"Rolled back", strconv.Itoa(s.RolledBack)},
			{"Unmatched", strconv.Itoa(s.Unmatched)},
		},
		ColumnAlignment: []Align{AlignLeft, AlignRight},
	}
}

// AssetsData is one row per asset. Wide tables add the strongest evidence
// reason, the alternatives and the error of a failed action.
func AssetsData(r *report.Report, wide bool) Data {
	headers := []string{"ASSET", "OUTCOME", "OWNER", "CONFIDENCE", "METHODS", "DESTINATION"}
	align := []Align{AlignDefault, AlignDefault, AlignDefault, AlignRight, AlignDefault, AlignDefault}
	if wide {
		headers = append(headers, "EVIDENCE", "ALTERNATIVES", "ERROR")
		align = append(align, AlignDefault, AlignDefault, AlignDefault)
	}

	rows := make([][]string, 0, len(r.Assets))
	for _, e := range r.Assets {
		owner, confidence, methods, destination := "-", "-", "-", "-"
		if e.Winner != nil {
			owner = e.Winner.OwnerID
			confidence = formatConfidence(e.Winner.Confidence)
			labels := make([]string, 0, len(e.Winner.Contributing))
			for _, it := range e.Winner.Contributing {
				labels = append(labels, it.Label())
			}
			methods = strings.Join(labels, ",")
		}
		if e.Action != nil && e.Action.NewLocation != "" {
			destination = e.Action.NewLocation
		}
		row := []string{e.AssetID, string(e.Outcome), owner, confidence, methods, destination}

		if wide {
			evidence, alternatives, failure := "-", "-", "-"
			if e.Winner != nil && len(e.Winner.Contributing) > 0 {
				evidence = e.Winner.Contributing[0].Reason
			}
			if len(e.Alternatives) > 0 {
				alts := make([]string, len(e.Alternatives))
				for i, alt := range e.Alternatives {
					alts[i] = fmt.Sprintf("%s (%s)", alt.OwnerID, formatConfidence(alt.Confidence))
				}
				alternatives = strings.Join(alts, ", ")
			}
			if e.Action != nil && e.Action.Error != "" {
				failure = fmt.Sprintf("[%s] %s", e.Action.ErrorKind, e.Action.Error)
			} else if e.Action != nil && e.Action.Reason != "" && e.Outcome == report.OutcomePending {
				failure = e.Action.Reason
			}
			row = append(row, evidence, alternatives, failure)
		}
		rows = append(rows, row)
	}

	return Data{Headers: headers, Rows: rows, ColumnAlignment: align}
}

// NotesData lists the session notes.
func NotesData(r *report.Report) Data {
	rows := make([][]string, 0, len(r.Notes))
	for _, n := range r.Notes {
		asset := n.AssetID
		if asset == "" {
			asset = "-"
		}
		rows = append(rows, []string{string(n.Kind), asset, n.Message})
	}
	return Data{Headers: []string{"NOTE", "ASSET", "MESSAGE"}, Rows: rows}
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}
