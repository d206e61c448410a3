package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/ethereum-optimism/infra/op-reporter/artifacts"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

const htmlTemplateName = "report.html.tmpl"

// HTMLRenderer produces the interactive HTML report. The parsed template
// is compiled through the artifact cache, so repeated renders with an
// unchanged template source reuse the compiled artifact.
type HTMLRenderer struct {
	cache *artifacts.Cache
}

func NewHTMLRenderer(cache *artifacts.Cache) *HTMLRenderer {
	return &HTMLRenderer{cache: cache}
}

func (r *HTMLRenderer) Format() types.Format { return types.FormatHTML }

// htmlReportView is the data handed to the HTML template.
type htmlReportView struct {
	Title      string
	Data       *types.AggregatedTestData
	Categories []types.Category
}

func (r *HTMLRenderer) Render(data *types.AggregatedTestData, cfg types.FormatConfig) (string, error) {
	htmlCfg, ok := cfg.(types.HTMLConfig)
	if !ok {
		return "", fmt.Errorf("html renderer received %T config", cfg)
	}

	source, err := templateFS.ReadFile("templates/" + htmlTemplateName)
	if err != nil {
		return "", fmt.Errorf("failed to read HTML template: %w", err)
	}

	tmpl, err := r.compiledTemplate(string(source))
	if err != nil {
		return "", err
	}

	title := htmlCfg.Title
	if title == "" {
		title = "Test Results"
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, htmlReportView{
		Title:      title,
		Data:       data,
		Categories: types.Categories,
	})
	if err != nil {
		return "", fmt.Errorf("failed to execute HTML template: %w", err)
	}
	return buf.String(), nil
}

func (r *HTMLRenderer) compiledTemplate(source string) (*template.Template, error) {
	compile := func(src string) (*artifacts.Compiled, error) {
		tmpl, err := template.New(htmlTemplateName).Funcs(templateFuncs()).Parse(src)
		if err != nil {
			return nil, err
		}
		return &artifacts.Compiled{Value: tmpl, SizeBytes: int64(len(src))}, nil
	}

	if r.cache == nil {
		compiled, err := compile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to compile HTML template: %w", err)
		}
		return compiled.Value.(*template.Template), nil
	}

	artifact, err := r.cache.Get("html:"+htmlTemplateName, source, compile)
	if err != nil {
		return nil, err
	}
	return artifact.(*template.Template), nil
}

// templateFuncs returns the functions available inside the HTML template.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"cleanFailure":   cleanFailureText,
		"statusClass": func(status types.CaseStatus) string {
			return string(status)
		},
		"suiteStatusClass": func(status types.SuiteStatus) string {
			return string(status)
		},
		"passRate": func(rate float64) string {
			return fmt.Sprintf("%.1f%%", rate)
		},
	}
}
