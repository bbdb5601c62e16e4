// Package defaults provides embedded copies of the starter config and
// persona files written by the solaris -init flag.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed persona.example.yaml
var PersonaYAML []byte
