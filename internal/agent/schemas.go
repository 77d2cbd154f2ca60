package agent

import (
	"embed"

	"github.com/ashita-ai/mathmentor/internal/structured"
)

//go:embed schemas/*.json
var schemaFS embed.FS

func mustSchema(name string) *structured.Schema {
	doc, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(err)
	}
	return structured.MustCompileSchema(name, doc)
}

var (
	parserSchema    = mustSchema("parser.json")
	routerSchema    = mustSchema("router.json")
	evaluatorSchema = mustSchema("evaluator.json")
)
