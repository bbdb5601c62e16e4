package agent

import (
	"context"
	"encoding/json"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
	"github.com/HolmesDomain/agentic-solaris/internal/llm"
	"github.com/HolmesDomain/agentic-solaris/internal/prompts"
	"github.com/HolmesDomain/agentic-solaris/internal/snapshot"
)

// CompletionToolName is the forced-choice tool the completion audit
// answers through. It is also registered as a regular local tool so a
// model that calls it mid-task gets an acknowledgement instead of an
// unknown-tool failure.
const CompletionToolName = "report_completion"

// maxAuditPageText bounds the condensed page text sent with the audit
// question; accessibility snapshots of busy pages run to hundreds of
// kilobytes.
const maxAuditPageText = 8 * 1024

// completionReport is the argument shape of the completion tool.
type completionReport struct {
	Complete bool   `json:"complete"`
	Summary  string `json:"summary"`
}

// completionParameters is the JSON schema for the completion tool.
func completionParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"complete": map[string]any{
				"type":        "boolean",
				"description": "true only if the task has been fully completed",
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "one or two sentences on the task's current state",
			},
		},
		"required": []string{"complete", "summary"},
	}
}

// completionReportTool is the in-loop registration of the completion
// tool. Reporting mid-task does not end the run; the loop only stops
// on a plain-text reply, so the handler says exactly that.
func (c *Controller) completionReportTool() *LocalTool {
	return &LocalTool{
		Name:        CompletionToolName,
		Description: "Report whether the current task has been completed, with a short summary.",
		Parameters:  completionParameters(),
		Handler: func(_ context.Context, args map[string]any) (*gateway.ToolResult, error) {
			complete, _ := args["complete"].(bool)
			summary, _ := args["summary"].(string)
			c.logger.Info("completion reported", "complete", complete, "summary", summary)
			return gateway.Textf("Report noted. Reply with a short plain-text message and no tool calls to finish the task."), nil
		},
	}
}

// CheckIfComplete asks the model, in a single independent call, whether
// the task looks finished on the page the browser currently shows. The
// answer comes back through a forced report_completion call.
//
// Every failure path returns (false, ""): a false negative just keeps
// the outer workflow polling, while a false positive would end it
// prematurely.
func (c *Controller) CheckIfComplete(ctx context.Context, task string) (bool, string) {
	res, err := c.sess.Invoke(ctx, gateway.ToolSnapshot, nil)
	if err != nil {
		c.logger.Warn("completion check: snapshot failed", "error", err)
		return false, ""
	}
	if res.Failed {
		c.logger.Warn("completion check: snapshot refused", "detail", res.Text())
		return false, ""
	}
	pageText := snapshot.Text(res.Text())
	if len(pageText) > maxAuditPageText {
		pageText = pageText[:maxAuditPageText] + "\n\n[truncated]"
	}

	msgs := []llm.Message{
		{Role: roleSystem, Content: prompts.CompletionCheckSystem()},
		{Role: roleUser, Content: prompts.CompletionQuestion(task, pageText)},
	}
	tool := llm.Tool{
		Name:        CompletionToolName,
		Description: "Report whether the task has been completed.",
		Parameters:  completionParameters(),
	}
	resp, err := c.client.Chat(ctx, c.cfg.Model, msgs, []llm.Tool{tool}, CompletionToolName)
	if err != nil {
		c.logger.Warn("completion check: model call failed", "error", err)
		return false, ""
	}
	c.recordUsage(ctx, resp)

	for _, call := range resp.Message.ToolCalls {
		if call.Function.Name != CompletionToolName {
			continue
		}
		var rep completionReport
		if err := json.Unmarshal([]byte(call.Function.Arguments), &rep); err != nil {
			c.logger.Warn("completion check: bad report arguments",
				"error", err,
				"raw", call.Function.Arguments,
			)
			return false, ""
		}
		c.logger.Debug("completion check answered", "complete", rep.Complete, "summary", rep.Summary)
		return rep.Complete, rep.Summary
	}

	c.logger.Warn("completion check: model ignored the forced tool")
	return false, ""
}
