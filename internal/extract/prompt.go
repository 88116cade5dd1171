package extract

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the extraction instructions sent alongside every
// card image. The output is a pure function of the schema, byte for byte,
// so identical batches produce identical payloads.
func BuildPrompt(schema Schema) string {
	var b strings.Builder

	b.WriteString("You are given a business card image. Carefully read all text on the card and extract the following fields:\n\n")
	for i, f := range schema {
		fmt.Fprintf(&b, "%d. **%s**: %s.\n", i+1, f.Key, f.Description)
	}

	b.WriteString("\nReturn ONLY a single valid JSON object with exactly these keys:\n{\n")
	for i, f := range schema {
		comma := ","
		if i == len(schema)-1 {
			comma = ""
		}
		fmt.Fprintf(&b, "  %q: string%s\n", f.Key, comma)
	}
	b.WriteString("}\n")

	b.WriteString(`
Important:
- Use an empty string "" for any field you cannot find on the card. Never invent data.
- Keep the original spelling and characters; do not translate or transliterate.
- Do not include any text before or after the JSON.
- Do not use markdown code blocks.`)

	return b.String()
}
