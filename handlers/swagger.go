package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the editor bridge.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>editorbridge API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "editorbridge", "version": "v1.0.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } },
    "schemas": {
      "Ack": { "type": "object", "properties": { "error": { "type": "integer", "enum": [0, 1, 2, 3], "description": "0 ok, 1 retry later, 2 rejected, 3 integrity violation" } } },
      "Callback": { "type": "object", "properties": { "key": {"type":"string"}, "status": {"type":"integer","enum":[1,2,3,4,6,7]}, "url": {"type":"string"}, "users": {"type":"array","items":{"type":"string"}}, "token": {"type":"string"} }, "required": ["key", "status"] }
    }
  },
  "paths": {
    "/api/documents": {
      "get": { "summary": "List documents visible to the requester", "security": [{"bearer": []}], "responses": { "200": { "description": "documents" } } },
      "post": {
        "summary": "Create a document in the requester's azienda",
        "security": [{"bearer": []}],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"extension":{"type":"string"},"content":{"type":"string"},"azienda":{"type":"string"},"versioning":{"type":"boolean"}},"required":["title"]}}}},
        "responses": { "201": { "description": "created" }, "400": { "description": "invalid input" }, "403": { "description": "forbidden" } }
      }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Document metadata", "security": [{"bearer": []}], "responses": { "200": { "description": "metadata" }, "403": { "description": "forbidden" }, "404": { "description": "not found" } } },
      "patch": {
        "summary": "Direct save; creates a new version",
        "security": [{"bearer": []}],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"}}}}}},
        "responses": { "200": { "description": "saved" }, "403": { "description": "forbidden" }, "404": { "description": "not found" } }
      }
    },
    "/api/documents/{id}/editor-session": {
      "get": { "summary": "Build an editor session (document key, signed URLs, editor config)", "security": [{"bearer": []}], "responses": { "200": { "description": "session config" }, "403": { "description": "forbidden" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/content": {
      "get": { "summary": "Document bytes for the editor server", "parameters": [{"name":"token","in":"query","required":true,"schema":{"type":"string"}}], "responses": { "200": { "description": "content" }, "403": { "description": "invalid or expired token" } } }
    },
    "/api/documents/{id}/callback": {
      "post": {
        "summary": "Editor save/status callback",
        "parameters": [{"name":"token","in":"query","required":true,"schema":{"type":"string"}}],
        "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Callback"}}}},
        "responses": {
          "200": { "description": "acknowledged", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Ack"}}}},
          "400": { "description": "malformed payload" },
          "403": { "description": "signature or token rejected" },
          "404": { "description": "document not found" },
          "409": { "description": "integrity violation" },
          "502": { "description": "content fetch rejected" },
          "503": { "description": "retry later" }
        }
      }
    },
    "/api/documents/{id}/versions": {
      "get": { "summary": "Version snapshots (no content)", "security": [{"bearer": []}], "responses": { "200": { "description": "versions" } } }
    },
    "/api/documents/{id}/versions/{version}": {
      "get": { "summary": "Snapshot content", "security": [{"bearer": []}], "responses": { "200": { "description": "content" }, "404": { "description": "not found" } } }
    },
    "/api/me": {
      "get": { "summary": "Requester resolved from the bearer token", "security": [{"bearer": []}], "responses": { "200": { "description": "requester and editor permissions" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
