package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", usageError{fmt.Errorf("unsupported format: %s", format)}
	}
}

// printResponse writes resp to the command's output in the --format format.
func printResponse(cmd *cobra.Command, resp interface{}) error {
	return writeResponse(cmd.OutOrStdout(), resp)
}

func writeResponse(w io.Writer, resp interface{}) error {
	out, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, err = fmt.Fprint(w, out)
	return err
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *ResolveResponse:
		return formatResolveHuman(v), nil
	case *RecordResponse:
		return formatRecordHuman(v), nil
	case *PatternsResponse:
		return formatPatternsHuman(v), nil
	case *PatternShowResponse:
		return formatPatternShowHuman(v), nil
	case *PromoteResponse:
		return formatPromoteHuman(v), nil
	case *HistoryResponse:
		return formatHistoryHuman(v), nil
	case *ProjectsResponse:
		return formatProjectsHuman(v), nil
	case *BaseListResponse:
		return formatBaseListHuman(v), nil
	case *MessageResponse:
		return v.Message, nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

// MessageResponse is a one-line result.
type MessageResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func formatResolveHuman(r *ResolveResponse) string {
	var b strings.Builder
	b.WriteString(r.Document)
	if !r.ShowProvenance || r.Provenance == nil {
		return b.String()
	}
	p := r.Provenance

	b.WriteString("\n--- provenance ---\n")
	fmt.Fprintf(&b, "document: %s (base v%d, source %s)\n", p.Document, p.BaseVersion, p.Source)
	if p.FullOverride != "" {
		fmt.Fprintf(&b, "full override: %s\n", p.FullOverride)
	}
	for _, l := range p.Layers {
		fmt.Fprintf(&b, "layer    %-14s %-16s %s\n", l.Tier, l.Kind, l.Name)
	}
	for _, s := range p.Sections {
		mark := ""
		if s.Removed {
			mark = " (removed)"
		}
		fmt.Fprintf(&b, "section  %-14s %s%s\n", s.Tier, s.Path, mark)
	}
	for _, k := range sortedKeys(p.Config) {
		fmt.Fprintf(&b, "config   %-14s %s\n", p.Config[k], k)
	}
	for _, k := range sortedKeys(p.Artifacts) {
		fmt.Fprintf(&b, "artifact %-14s %s\n", p.Artifacts[k], k)
	}
	return b.String()
}

func formatRecordHuman(r *RecordResponse) string {
	var b strings.Builder
	p := r.Pattern
	fmt.Fprintf(&b, "Recorded %s -> pattern %s %q\n", r.Refinement.ID, p.ID, p.Name)
	fmt.Fprintf(&b, "  status: %s (%d of %d projects)\n", p.Status, p.Count, r.Threshold)
	if !r.Counted {
		b.WriteString("  project had already contributed; count unchanged\n")
	}
	if r.Transition != nil {
		fmt.Fprintf(&b, "  transition: %s -> %s\n", r.Transition.From, r.Transition.To)
	}
	return b.String()
}

func formatPatternsHuman(r *PatternsResponse) string {
	if len(r.Patterns) == 0 {
		return "No patterns found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-12s %5s  %-10s %s\n", "PATTERN", "STATUS", "COUNT", "CATEGORY", "NAME")
	for _, p := range r.Patterns {
		fmt.Fprintf(&b, "%-16s %-12s %5d  %-10s %s\n", p.ID, p.Status, p.Count, p.Category, p.Name)
	}
	return b.String()
}

func formatPatternShowHuman(r *PatternShowResponse) string {
	var b strings.Builder
	p := r.Pattern
	fmt.Fprintf(&b, "Pattern %s: %s\n", p.ID, p.Name)
	fmt.Fprintf(&b, "  status:    %s", p.Status)
	if p.DismissReason != "" {
		fmt.Fprintf(&b, " (%s)", p.DismissReason)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  category:  %s\n", p.Category)
	fmt.Fprintf(&b, "  count:     %d\n", p.Count)
	fmt.Fprintf(&b, "  documents: %s\n", strings.Join(p.Documents, ", "))
	fmt.Fprintf(&b, "  projects:  %s\n", strings.Join(p.Projects, ", "))
	if len(r.Refinements) > 0 {
		b.WriteString("\nRefinements:\n")
		for _, ref := range r.Refinements {
			fmt.Fprintf(&b, "  %s  %-12s %s\n", ref.ID, ref.ProjectID, ref.DiffSummary)
		}
	}
	if r.CanonicalEdit != nil {
		b.WriteString("\nCanonical edit:\n")
		b.WriteString(r.CanonicalEdit.PatchText)
	}
	return b.String()
}

func formatPromoteHuman(r *PromoteResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Promoted pattern %s\n", r.PatternID)
	for _, d := range r.Documents {
		fmt.Fprintf(&b, "  %s: v%d -> v%d\n", d.DocumentID, d.BeforeVersion, d.AfterVersion)
	}
	return b.String()
}

func formatHistoryHuman(r *HistoryResponse) string {
	if len(r.Promotions) == 0 {
		return "No promotions recorded."
	}
	var b strings.Builder
	for _, p := range r.Promotions {
		fmt.Fprintf(&b, "%s  %-16s %-24s v%d -> v%d\n",
			p.PromotedAt.Format("2006-01-02 15:04:05"), p.PatternID, p.DocumentID, p.BeforeVersion, p.AfterVersion)
	}
	return b.String()
}

func formatProjectsHuman(r *ProjectsResponse) string {
	if len(r.Projects) == 0 {
		return "No projects registered."
	}
	var b strings.Builder
	for _, p := range r.Projects {
		fmt.Fprintf(&b, "%-20s %s\n", p.ID, p.Path)
	}
	return b.String()
}

func formatBaseListHuman(r *BaseListResponse) string {
	if len(r.Documents) == 0 {
		return "No base documents."
	}
	var b strings.Builder
	for _, e := range r.Documents {
		line := fmt.Sprintf("%-24s v%-4d", e.ID, e.Version)
		if e.PatternID != "" {
			line += " (promoted " + e.PatternID + ")"
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
