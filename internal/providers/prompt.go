package providers

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a research assistant that recommends products, companies and resources.
Answer the user's request with a JSON array of up to 10 recommendations ordered from most to least relevant.
Each item must be an object with the fields "title", "url" and "snippet".
The snippet is one or two sentences explaining why the item is recommended.
Return only the JSON array, without commentary or code fences.`

// BuildMessages returns the system and user messages sent to every provider
func BuildMessages(req PromptRequest) (string, string) {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Content))
	if region := strings.TrimSpace(req.Region); region != "" {
		fmt.Fprintf(&b, "\n\nFocus on options available in this region: %s.", region)
	}
	return systemPrompt, b.String()
}
