package tools

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

const semanticSearchTemplate = `Search the "{{.index}}" knowledge index for entries semantically related to a query.
Use it whenever the answer may depend on documents, products or policies stored in that index.
Returns a JSON list with the metadata of the closest entries, most relevant first.`

// semanticSearchDescription renders the tool description advertised to the model.
func semanticSearchDescription(index string) string {
	template := prompts.PromptTemplate{
		Template:       semanticSearchTemplate,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
		InputVariables: []string{"index"},
	}

	description, err := template.Format(map[string]any{"index": index})
	if err != nil {
		semanticSearchLogger.WithError(err).Warn("Failed to render tool description, using plain text")
		return fmt.Sprintf("Search the %q knowledge index for semantically related entries.", index)
	}
	return description
}
