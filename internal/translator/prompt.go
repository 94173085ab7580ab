package translator

import "fmt"

// buildSystemPrompt creates the translator persona and output rules.
func buildSystemPrompt(source, target string) string {
	return fmt.Sprintf(`Follow these instructions carefully. You are a professional translator from %[1]s to %[2]s.
You will receive the text of one book page, produced by text extraction or OCR. Translate it from %[1]s to %[2]s.

RULES:
1. Output ONLY the translation. Do not add explanations, notes or any unrelated content.
2. Delete garbled text and non-standard characters instead of translating them.
3. Keep headings, footnotes and body text correctly formatted. You may lay out and break lines yourself; use \n for line breaks.
4. The input has three parts:
   - Previous Page: the last 50 characters of the previous page
   - Current Page: the text of the current page
   - Next Page: the first 50 characters of the next page
5. Translate ONLY the Current Page. Use the previous and next page to keep the translation coherent, but never output them.`, source, target)
}

// buildUserPrompt wraps the formatted context window with the output reminder.
func buildUserPrompt(window string) string {
	return `Output only the translation of the Current Page and nothing else. Do not output anything about the Previous or Next Page. Do not introduce the answer, e.g. "Here is the translation of the current page:".

` + window
}
