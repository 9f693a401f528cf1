// Package openapi serves an OpenAPI 3.0 description of the HTTP API, built
// from the operations each domain handler declares.
package openapi

import (
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Param is a query parameter of an operation.
type Param struct {
	Name        string
	Type        string
	Description string
}

// Operation describes one route. Schema names refer to the component
// schemas handed to the generator; an empty name means no body.
type Operation struct {
	Method        string
	Path          string
	Summary       string
	OperationID   string
	Tag           string
	QueryParams   []Param
	RequestSchema string
	Responses     map[int]string
}

// Generator builds the OpenAPI document.
type Generator struct {
	title      string
	version    string
	baseURL    string
	operations []Operation
	schemas    map[string]interface{}
}

// NewGenerator creates a generator for the given operations and component
// schemas.
func NewGenerator(title, version, baseURL string, operations []Operation, schemas map[string]interface{}) *Generator {
	return &Generator{title: title, version: version, baseURL: baseURL, operations: operations, schemas: schemas}
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})
	for _, op := range g.operations {
		path := openAPIPath(op.Path)
		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}
		item[strings.ToLower(op.Method)] = g.buildOperation(op)
	}

	schemas := map[string]interface{}{"Error": errorSchema()}
	for name, s := range g.schemas {
		schemas[name] = s
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func (g *Generator) buildOperation(op Operation) map[string]interface{} {
	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": op.OperationID,
		"tags":        []string{op.Tag},
	}

	var params []map[string]interface{}
	for _, name := range pathParams(op.Path) {
		params = append(params, map[string]interface{}{
			"name": name, "in": "path", "required": true,
			"schema": map[string]string{"type": "string"},
		})
	}
	for _, p := range op.QueryParams {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		params = append(params, map[string]interface{}{
			"name": p.Name, "in": "query", "description": p.Description,
			"schema": map[string]string{"type": typ},
		})
	}
	if len(params) > 0 {
		out["parameters"] = params
	}

	if op.RequestSchema != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content":  jsonContent(op.RequestSchema),
		}
	}

	responses := make(map[string]interface{}, len(op.Responses)+1)
	codes := make([]int, 0, len(op.Responses))
	for code := range op.Responses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		resp := map[string]interface{}{"description": http.StatusText(code)}
		if schema := op.Responses[code]; schema != "" {
			resp["content"] = jsonContent(schema)
		}
		responses[strconv.Itoa(code)] = resp
	}
	responses["default"] = map[string]interface{}{
		"description": "Error",
		"content":     jsonContent("Error"),
	}
	out["responses"] = responses
	return out
}

func jsonContent(schema string) map[string]interface{} {
	return map[string]interface{}{
		"application/json": map[string]interface{}{
			"schema": map[string]string{"$ref": "#/components/schemas/" + schema},
		},
	}
}

// errorSchema matches the body echo writes for an HTTPError.
func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"message"},
		"properties": map[string]interface{}{
			"message": map[string]string{"type": "string"},
		},
	}
}

// openAPIPath converts echo's ":id" segments to "{id}".
func openAPIPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if strings.HasPrefix(s, ":") {
			segments[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segments, "/")
}

func pathParams(path string) []string {
	var names []string
	for _, s := range strings.Split(path, "/") {
		if strings.HasPrefix(s, ":") {
			names = append(names, s[1:])
		}
	}
	return names
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{title}} - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "{{spec_url}}",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers /openapi.json and /docs on the group.
func (g *Generator) RegisterRoutes(group *echo.Group) {
	group.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	group.GET("/docs", func(c echo.Context) error {
		specURL := strings.TrimSuffix(c.Path(), "/docs") + "/openapi.json"
		page := strings.NewReplacer("{{title}}", html.EscapeString(g.title), "{{spec_url}}", specURL).Replace(swaggerUIHTML)
		return c.HTML(http.StatusOK, page)
	})
}
