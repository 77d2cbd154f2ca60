// Package api holds the OpenAPI description of the HTTP surface, served at
// GET /openapi.yaml.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3.1 document in YAML.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
