// Package docs serves the OpenAPI document describing the HTTP API. The JSON
// file is embedded so the binary stays self-contained.
package docs

import _ "embed"

//go:embed swagger.json
var SwaggerJSON []byte
