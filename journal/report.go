package journal

import (
	"io"
	"sort"
	"text/template"
	"time"
)

type countRow struct {
	Name  string
	Count int
}

func sortedCounts(m map[string]int) []countRow {
	out := make([]countRow, 0, len(m))
	for k, v := range m {
		out = append(out, countRow{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

var reportFuncs = template.FuncMap{
	"counts": sortedCounts,
	"day":    func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
}

var reportTmpl = template.Must(template.New("report").Funcs(reportFuncs).Parse(ReportOrgTemplate))

// WriteOrg renders s as an org-mode section.
func (s Summary) WriteOrg(w io.Writer) error {
	return reportTmpl.Execute(w, s)
}

const ReportOrgTemplate = `* ARBITER JOURNAL {{day .Start}} .. {{day .End}}
:PROPERTIES:
:SIGNALS:   {{.Signals}}
:CLOSED:    {{.Closed}}
:WINS:      {{.Wins}}
:LOSSES:    {{.Losses}}
:REALIZED:  {{.Realized.StringFixed 2}}
:HALTS:     {{.Halts}}
:END:

** Terminal outcomes
| Outcome | Count |
|---------+-------|
{{- range counts .ByTerminal }}
| {{.Name}} | {{.Count}} |
{{- end }}

** Vetoes
{{- if .ByVeto }}
| Reason | Count |
|--------+-------|
{{- range counts .ByVeto }}
| {{.Name}} | {{.Count}} |
{{- end }}
{{- else }}
- none
{{- end }}
`
