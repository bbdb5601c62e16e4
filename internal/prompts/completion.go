package prompts

import "fmt"

// completionCheckSystem primes the model for a single-shot audit. The
// answer comes back through a forced tool call, so the prompt forbids
// free-text replies.
const completionCheckSystem = `You audit a browser automation agent. You are given a task description and the readable text of the page the browser currently shows. Decide whether the task has been fully completed. Answer only by calling the report_completion tool; do not reply with plain text. If the page text is insufficient to be sure, report the task as not complete.`

// CompletionCheckSystem returns the system prompt for the completion
// audit call.
func CompletionCheckSystem() string {
	return completionCheckSystem
}

// completionQuestionTemplate carries the task and the condensed page
// text into the audit call.
const completionQuestionTemplate = `Task:
%s

Current page text:
%s

Has this task been fully completed?`

// CompletionQuestion builds the user message for the completion audit.
func CompletionQuestion(task, pageText string) string {
	return fmt.Sprintf(completionQuestionTemplate, task, pageText)
}
