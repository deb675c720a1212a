// Package apidocs embeds the dashboard OpenAPI document.
package apidocs

import _ "embed"

// Spec is the raw openapi.yaml.
//
//go:embed openapi.yaml
var Spec []byte
