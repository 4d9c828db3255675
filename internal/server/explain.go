package server

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/registry"
)

const explainLogPrefix = "server:explain"

// explainPageTemplate renders the service, class and method pages (white bg, black/blue text).
const explainPageTemplate = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 0.5rem; }
    .auth { color: #cc0000; font-weight: bold; }
    section { margin-bottom: 2rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; font-size: 0.85rem; margin: 0.25rem 0; border: 1px solid #eee; }
    .back { margin-bottom: 1rem; }
  </style>
</head>
<body>
{{end}}

{{define "foot"}}</body>
</html>
{{end}}

{{define "service"}}{{template "head" .Service}}
  <h1>{{.Service}}</h1>
  <p class="meta">{{.Description}} (version {{.Version}})</p>
  <p class="meta"><a href="?format=openapi">OpenAPI</a></p>
  <section>
    <h2>Classes</h2>
    {{if not .Classes}}
    <p>No classes registered.</p>
    {{else}}
    <table>
      <thead><tr><th>Class</th><th>Description</th><th>Methods</th></tr></thead>
      <tbody>
      {{range .Classes}}
        <tr>
          <td><a href="?method={{.Service}}:{{.Name}}">{{.Name}}</a></td>
          <td>{{.Desc}}</td>
          <td>{{len .Methods}}</td>
        </tr>
      {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
{{template "foot"}}{{end}}

{{define "class"}}{{template "head" .Name}}
  <p class="back"><a href="?method={{.Service}}">&larr; {{.Service}}</a></p>
  <h1>{{.Name}}</h1>
  {{if .Desc}}<p class="meta">{{.Desc}}</p>{{end}}
  <p class="meta">Implemented by {{range .Types}}{{.}} {{end}}</p>
  <section>
    <h2>Methods</h2>
    <table>
      <thead><tr><th>Method</th><th>Description</th><th>Returns</th></tr></thead>
      <tbody>
      {{range .Methods}}
        <tr>
          <td><a href="?method={{.Service}}:{{.Class}}:{{.Name}}">{{.Name}}</a>{{if .RequiresAuth}} <span class="auth">auth</span>{{end}}</td>
          <td>{{.Desc}}</td>
          <td>{{.Return}}</td>
        </tr>
      {{end}}
      </tbody>
    </table>
  </section>
{{template "foot"}}{{end}}

{{define "method"}}{{template "head" .Name}}
  <p class="back"><a href="?method={{.Service}}:{{.Class}}">&larr; {{.Class}}</a></p>
  <h1>{{.Service}}:{{.Class}}:{{.Name}}</h1>
  {{if .Desc}}<p class="meta">{{.Desc}}</p>{{end}}
  {{if .RequiresAuth}}<p class="auth">Requires context.token</p>{{end}}
  <section>
    <h2>Parameters</h2>
    {{if not .Params}}
    <p>No parameters.</p>
    {{else}}
    <table>
      <thead><tr><th>Name</th><th>Type</th><th>Description</th></tr></thead>
      <tbody>
      {{range .Params}}
        <tr>
          <td>{{.Name}}{{if .Optional}} (optional){{end}}</td>
          <td>{{.Type}}</td>
          <td>{{.Desc}}</td>
        </tr>
      {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
  <section>
    <h2>Returns</h2>
    <p>{{.Return}}{{if .ReturnDesc}}: {{.ReturnDesc}}{{end}}</p>
  </section>
  <section>
    <h2>Example request</h2>
    <pre>{{.Example}}</pre>
  </section>
{{template "foot"}}{{end}}

{{define "error"}}{{template "head" "explain"}}
  <p class="back"><a href="?">&larr; service</a></p>
  <p class="auth">{{.}}</p>
{{template "foot"}}{{end}}
`

var explainTemplates = template.Must(template.New("explain").Parse(explainPageTemplate))

// handleExplain renders documentation for "service[:class[:method]]" given
// in the method query parameter, or the OpenAPI document with format=openapi.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service, class, method := s.cfg.ServiceName, "", ""
	if target := q.Get("method"); target != "" {
		parts := strings.Split(target, ":")
		if len(parts) > 3 {
			s.renderExplain(w, http.StatusBadRequest, "error", fmt.Sprintf("method '%s' format error", target))
			return
		}
		service = parts[0]
		if len(parts) > 1 {
			class = parts[1]
		}
		if len(parts) > 2 {
			method = parts[2]
		}
	}

	if q.Get("format") == "openapi" {
		doc := buildOpenAPISpec(s.reg, service, s.cfg.Version, s.cfg.ServiceDescription, s.cfg.ServicePath, class)
		w.Header().Set("Cache-Control", "public, max-age=60")
		writeJSON(w, http.StatusOK, doc)
		return
	}

	var (
		page string
		data any
		err  error
	)
	switch {
	case class == "":
		page, data = "service", s.reg.DescribeService(service, s.cfg.Version, s.cfg.ServiceDescription)
	case method == "":
		page = "class"
		data, err = s.reg.DescribeClass(service, class)
	default:
		page = "method"
		data, err = s.reg.DescribeMethod(service, class, method)
	}
	if err != nil {
		code := http.StatusInternalServerError
		if protocol.IsCode(err, protocol.CodeNotFound) {
			code = http.StatusNotFound
		}
		s.renderExplain(w, code, "error", err.Error())
		return
	}
	s.renderExplain(w, http.StatusOK, page, data)
}

func (s *Server) renderExplain(w http.ResponseWriter, code int, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := explainTemplates.ExecuteTemplate(w, page, data); err != nil {
		slog.Error(fmt.Sprintf("%s - %s template execute: %v", explainLogPrefix, page, err))
	}
}

// openAPI3 types for generating specs from the registry.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema map[string]any `json:"schema,omitempty"`
}

// buildOpenAPISpec builds an OpenAPI 3.0 document with one operation per
// exposed method. Every operation posts to servicePath; the path key carries
// a fragment naming the method so keys stay unique.
func buildOpenAPISpec(reg *registry.Registry, service, version, description, servicePath, onlyClass string) *openAPI3Spec {
	paths := make(map[string]openAPI3PathItem)
	for _, c := range reg.Classes() {
		if onlyClass != "" && c.Name != onlyClass {
			continue
		}
		for _, em := range reg.MethodsOf(c.Name) {
			target := strings.Join([]string{service, em.ClassName, em.Name}, ":")
			paths[servicePath+"#"+target] = openAPI3PathItem{
				Post: &openAPI3Operation{
					Summary:     target,
					Description: em.Desc,
					OperationID: em.ClassName + "." + em.Name,
					RequestBody: &openAPI3RequestBody{
						Content: map[string]openAPI3MediaType{
							"application/json": {Schema: requestSchema(target, em)},
						},
					},
					Responses: map[string]openAPI3Response{
						"200": {
							Description: "Call envelope; status 0 carries the return value",
							Content: map[string]openAPI3MediaType{
								"application/json": {Schema: responseSchema(em)},
							},
						},
					},
				},
			}
		}
	}
	if description == "" {
		description = "Service " + service
	}
	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info: openAPI3Info{
			Title:       service,
			Description: description,
			Version:     version,
		},
		Paths: paths,
	}
}

func requestSchema(target string, em *registry.ExposedMethod) map[string]any {
	props := make(map[string]any, len(em.Params))
	required := []string{}
	for _, p := range em.Params {
		ps := p.Shape.JSONSchema()
		ps["description"] = p.Desc
		props[p.Name] = ps
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	params := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		params["required"] = required
	}
	ctxProps := map[string]any{
		protocol.PropSequence: map[string]any{"type": "integer"},
		protocol.PropDebug:    map[string]any{"type": "boolean"},
		protocol.PropToken:    map[string]any{"type": "string"},
		protocol.PropSource:   map[string]any{"type": "object"},
	}
	return map[string]any{
		"type":     "object",
		"required": []string{protocol.PropMethod, protocol.PropParams},
		"properties": map[string]any{
			protocol.PropMethod:  map[string]any{"type": "string", "enum": []string{target}},
			protocol.PropContext: map[string]any{"type": "object", "properties": ctxProps},
			protocol.PropParams:  params,
		},
	}
}

func responseSchema(em *registry.ExposedMethod) map[string]any {
	ret := em.Return.JSONSchema()
	if em.ReturnDesc != "" {
		ret["description"] = em.ReturnDesc
	}
	return map[string]any{
		"type":     "object",
		"required": []string{protocol.PropStatus, protocol.PropStatusInfo, protocol.PropContext},
		"properties": map[string]any{
			protocol.PropStatus:     map[string]any{"type": "integer"},
			protocol.PropStatusInfo: map[string]any{"type": "string"},
			protocol.PropContext:    map[string]any{"type": "object"},
			protocol.PropReturn:     ret,
		},
	}
}
