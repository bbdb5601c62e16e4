package prompts

import "fmt"

// tabNoteTemplate frames the per-turn tab summary. The single format
// verb is the rendered tab listing.
const tabNoteTemplate = `Browser tabs open right now:
%s

This list is regenerated every turn; indices shift when tabs close, so trust only this copy.`

// noTabsNote replaces the listing when the browser has no tabs yet.
const noTabsNote = `No browser tabs are open yet. Use browser_navigate to open the first page.`

// TabNote builds the ephemeral system message describing current tab
// state. An empty listing means no tabs are open.
func TabNote(listing string) string {
	if listing == "" {
		return noTabsNote
	}
	return fmt.Sprintf(tabNoteTemplate, listing)
}
