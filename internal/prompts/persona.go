package prompts

import "fmt"

// personaTemplate frames the flattened persona facts. The facts arrive
// as "label: value" lines from the persona loader.
const personaTemplate = `You are acting on behalf of the person described below. When a page asks for a detail these facts cover, use it exactly as written here. Never invent names, addresses, or payment details that are not listed.

%s`

// Persona wraps the persona facts for the system message.
func Persona(facts string) string {
	return fmt.Sprintf(personaTemplate, facts)
}
