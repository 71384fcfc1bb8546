package agent

import (
	"strings"
	"text/template"
)

var promptTemplate = template.Must(template.New("prompt").Parse(`You are working on task {{.TaskID}} of plan {{.PlanID}}.
{{- if .Phase}}
Phase: {{.Phase}}
{{- end}}

{{.Description}}
{{- if .Files}}

Files in scope:
{{- range .Files}}
- {{.}}
{{- end}}
{{- end}}
{{- if gt .Attempt 1}}

This is attempt {{.Attempt}}.{{if .LastError}} The previous attempt failed with:
{{.LastError}}{{end}}
{{- end}}
`))

// BuildPrompt renders the stdin prompt for req.
func BuildPrompt(req Request) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, req); err != nil {
		return "", err
	}
	return b.String(), nil
}
