package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
	"github.com/HolmesDomain/agentic-solaris/internal/llm"
	"github.com/HolmesDomain/agentic-solaris/internal/prompts"
	"github.com/HolmesDomain/agentic-solaris/internal/session"
)

func portalTab() fakeTab {
	return fakeTab{title: "Dashboard", url: "https://portal.example/home", active: true}
}

func TestRunTask_ClickThenDone(t *testing.T) {
	// The canonical two-turn run: the model clicks once, sees the
	// result, and answers with plain text.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", gateway.ToolClick, `{"selector":"text=Surveys"}`)),
			textResponse("Done clicking Surveys"),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	got, err := ctl.RunTask(context.Background(), "click Surveys", "You are testing a portal.", 10)
	if err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}
	if got != "Done clicking Surveys" {
		t.Errorf("final text = %q, want %q", got, "Done clicking Surveys")
	}
	if len(mock.calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(mock.calls))
	}
	if gw.count(gateway.ToolClick) != 1 {
		t.Errorf("click forwarded %d times, want 1", gw.count(gateway.ToolClick))
	}
}

func TestRunTask_ConversationShape(t *testing.T) {
	// After a two-turn run the permanent history holds exactly five
	// messages: instructions, task, the tool-calling turn, its result,
	// and the final text.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", gateway.ToolClick, `{"selector":"text=Surveys"}`)),
			textResponse("Done clicking Surveys"),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	conv := NewConversation(prompts.System("You are testing a portal."), "click Surveys")
	if _, err := ctl.loop(context.Background(), conv, 10); err != nil {
		t.Fatalf("loop() error: %v", err)
	}

	if conv.Len() != 5 {
		t.Fatalf("conversation length = %d, want 5", conv.Len())
	}
	msgs := conv.Messages()
	wantRoles := []string{roleSystem, roleUser, roleAssistant, roleTool, roleAssistant}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message[%d].Role = %q, want %q", i, msgs[i].Role, want)
		}
	}
	if len(msgs[2].ToolCalls) != 1 {
		t.Errorf("message[2] should carry the tool call, got %d", len(msgs[2].ToolCalls))
	}
	if msgs[3].ToolCallID != "call-1" {
		t.Errorf("tool result ToolCallID = %q, want call-1", msgs[3].ToolCallID)
	}
	if !strings.Contains(msgs[3].Content, "Clicked element: text=Surveys") {
		t.Errorf("tool result content = %q", msgs[3].Content)
	}
}

func TestRunTask_TurnBudget(t *testing.T) {
	// With a budget of 3 and a model that never stops calling tools,
	// the fourth turn fails before reaching the model.
	gw := newFakeGateway(portalTab())
	clickForever := toolResponse(toolCall("call-1", gateway.ToolClick, `{"selector":"text=Next"}`))
	mock := &mockModel{
		responses: []*llm.ChatResponse{clickForever, clickForever, clickForever},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	_, err := ctl.RunTask(context.Background(), "keep clicking", "", 3)
	if !errors.Is(err, ErrTurnLimit) {
		t.Fatalf("error = %v, want ErrTurnLimit", err)
	}
	if len(mock.calls) != 3 {
		t.Errorf("model calls = %d, want 3 (budget must stop turn 4 before the model)", len(mock.calls))
	}
}

func TestRunTask_MalformedArgumentsRecovered(t *testing.T) {
	// A call with broken JSON gets an error tool-result; the next call
	// in the same turn still runs.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(
				toolCall("call-1", gateway.ToolClick, `{"selector": broken`),
				toolCall("call-2", gateway.ToolClick, `{"selector":"text=OK"}`),
			),
			textResponse("Recovered."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	got, err := ctl.RunTask(context.Background(), "click things", "", 10)
	if err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}
	if got != "Recovered." {
		t.Errorf("final text = %q, want %q", got, "Recovered.")
	}
	if gw.count(gateway.ToolClick) != 1 {
		t.Errorf("click forwarded %d times, want 1 (malformed call must not be forwarded)", gw.count(gateway.ToolClick))
	}

	// Both results must be visible to the model on the second call.
	second := mock.calls[1].Messages
	var parseErrSeen, clickSeen bool
	for _, m := range second {
		if m.Role != roleTool {
			continue
		}
		if m.ToolCallID == "call-1" && strings.Contains(m.Content, "could not parse tool arguments") {
			parseErrSeen = true
		}
		if m.ToolCallID == "call-2" && strings.Contains(m.Content, "Clicked element: text=OK") {
			clickSeen = true
		}
	}
	if !parseErrSeen {
		t.Error("no error tool-result for the malformed call")
	}
	if !clickSeen {
		t.Error("valid call after the malformed one was not executed")
	}
}

func TestRunTask_RefusedTabOpenNotForwarded(t *testing.T) {
	// At the page limit the governor refuses tab creation without
	// forwarding it; the model sees the refusal and moves on.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", gateway.ToolTabNew, `{}`)),
			textResponse("Stopping."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{PageLimit: 1})

	got, err := ctl.RunTask(context.Background(), "open a tab", "", 10)
	if err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}
	if got != "Stopping." {
		t.Errorf("final text = %q, want %q", got, "Stopping.")
	}
	if gw.count(gateway.ToolTabNew) != 0 {
		t.Errorf("tab_new forwarded %d times, want 0", gw.count(gateway.ToolTabNew))
	}

	var refusalSeen bool
	for _, m := range mock.calls[1].Messages {
		if m.Role == roleTool && strings.Contains(m.Content, "tab limit reached") {
			refusalSeen = true
		}
	}
	if !refusalSeen {
		t.Error("refusal text not delivered to the model")
	}
}

func TestRunTask_ScreenshotImagesSplitOut(t *testing.T) {
	// Image parts never ride inside the tool result. The result keeps
	// a placeholder and exactly one user message follows with the
	// actual image.
	gw := newFakeGateway(portalTab())
	gw.results[gateway.ToolTakeScreenshot] = &gateway.ToolResult{
		Parts: []gateway.ContentPart{
			{Type: "text", Text: "Screenshot of https://portal.example/home"},
			{Type: "image", Data: "QkFTRTY0", MimeType: "image/jpeg"},
		},
	}
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", gateway.ToolTakeScreenshot, `{}`)),
			textResponse("Looks good."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	conv := NewConversation(prompts.System(""), "screenshot the page")
	if _, err := ctl.loop(context.Background(), conv, 10); err != nil {
		t.Fatalf("loop() error: %v", err)
	}

	// system, task, assistant, tool result, image message, final text.
	if conv.Len() != 6 {
		t.Fatalf("conversation length = %d, want 6", conv.Len())
	}
	msgs := conv.Messages()

	toolMsg := msgs[3]
	if toolMsg.Role != roleTool {
		t.Fatalf("message[3].Role = %q, want tool", toolMsg.Role)
	}
	if !strings.Contains(toolMsg.Content, "[image]") {
		t.Errorf("tool result should carry an image placeholder, got %q", toolMsg.Content)
	}
	if strings.Contains(toolMsg.Content, "QkFTRTY0") {
		t.Error("raw image data leaked into the tool result")
	}
	if len(toolMsg.Images) != 0 {
		t.Error("tool result must not carry image attachments")
	}

	imgMsg := msgs[4]
	if imgMsg.Role != roleUser {
		t.Fatalf("message[4].Role = %q, want user", imgMsg.Role)
	}
	if len(imgMsg.Images) != 1 {
		t.Fatalf("image message carries %d images, want 1", len(imgMsg.Images))
	}
	if imgMsg.Images[0].Data != "QkFTRTY0" || imgMsg.Images[0].MimeType != "image/jpeg" {
		t.Errorf("image = %+v", imgMsg.Images[0])
	}
}

func TestRunTask_EphemeralTabNote(t *testing.T) {
	// Every model call ends with a fresh system note listing the open
	// tabs; the note never enters the permanent history.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", gateway.ToolClick, `{"selector":"text=Surveys"}`)),
			textResponse("Done."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	conv := NewConversation(prompts.System(""), "click Surveys")
	if _, err := ctl.loop(context.Background(), conv, 10); err != nil {
		t.Fatalf("loop() error: %v", err)
	}

	for i, call := range mock.calls {
		last := call.Messages[len(call.Messages)-1]
		if last.Role != roleSystem {
			t.Errorf("call %d: last message role = %q, want system tab note", i, last.Role)
		}
		if !strings.Contains(last.Content, "Dashboard (https://portal.example/home)") {
			t.Errorf("call %d: tab note missing the open tab, got %q", i, last.Content)
		}
	}

	for i, m := range conv.Messages() {
		if strings.Contains(m.Content, "Browser tabs open right now") {
			t.Errorf("tab note leaked into permanent history at message %d", i)
		}
	}
}

func TestRunTask_ToolCallsWinOverText(t *testing.T) {
	// Text alongside tool calls is narration, not a terminal answer.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			{
				Model: "test-model",
				Message: llm.Message{
					Role:      roleAssistant,
					Content:   "Let me click that.",
					ToolCalls: []llm.ToolCall{toolCall("call-1", gateway.ToolClick, `{"selector":"text=Go"}`)},
				},
			},
			textResponse("All done."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	got, err := ctl.RunTask(context.Background(), "click Go", "", 10)
	if err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}
	if got != "All done." {
		t.Errorf("final text = %q, want %q (narration must not end the run)", got, "All done.")
	}
	if len(mock.calls) != 2 {
		t.Errorf("model calls = %d, want 2", len(mock.calls))
	}
}

func TestRunTask_TransportErrorBecomesToolResult(t *testing.T) {
	// An infrastructure failure on one call is reported to the model
	// as text; the run keeps going.
	gw := newFakeGateway(portalTab())
	gw.errs[gateway.ToolClick] = errors.New("pipe closed")
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", gateway.ToolClick, `{"selector":"text=Go"}`)),
			textResponse("Could not click, stopping."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	got, err := ctl.RunTask(context.Background(), "click Go", "", 10)
	if err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}
	if got != "Could not click, stopping." {
		t.Errorf("final text = %q", got)
	}

	var errSeen bool
	for _, m := range mock.calls[1].Messages {
		if m.Role == roleTool && strings.Contains(m.Content, "tool browser_click failed: pipe closed") {
			errSeen = true
		}
	}
	if !errSeen {
		t.Error("transport error not surfaced as a tool result")
	}
}

func TestRunTask_LocalToolDispatch(t *testing.T) {
	// Registered local tools run in-process and are never forwarded to
	// the gateway. Their schemas still reach the model.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", "fetch_verification_code", `{"sender":"noreply@shop.example"}`)),
			textResponse("Code entered."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	var gotArgs map[string]any
	ctl.RegisterLocal(&LocalTool{
		Name:        "fetch_verification_code",
		Description: "Fetch a verification code from the mailbox.",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(_ context.Context, args map[string]any) (*gateway.ToolResult, error) {
			gotArgs = args
			return gateway.Textf("Verification code: 482913"), nil
		},
	})

	if _, err := ctl.RunTask(context.Background(), "log in", "", 10); err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}

	if gotArgs == nil {
		t.Fatal("local handler never ran")
	}
	if gotArgs["sender"] != "noreply@shop.example" {
		t.Errorf("handler args = %v", gotArgs)
	}
	if gw.count("fetch_verification_code") != 0 {
		t.Error("local tool call leaked to the gateway")
	}

	var schemaSeen bool
	for _, tool := range mock.calls[0].Tools {
		if tool.Name == "fetch_verification_code" {
			schemaSeen = true
		}
	}
	if !schemaSeen {
		t.Error("local tool schema not offered to the model")
	}

	var codeSeen bool
	for _, m := range mock.calls[1].Messages {
		if m.Role == roleTool && strings.Contains(m.Content, "482913") {
			codeSeen = true
		}
	}
	if !codeSeen {
		t.Error("local tool result not delivered to the model")
	}
}

func TestRunTask_CompletionReportAcknowledged(t *testing.T) {
	// report_completion is pre-registered; calling it mid-task gets an
	// acknowledgement instead of an unknown-tool failure, and the run
	// still ends only on plain text.
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			toolResponse(toolCall("call-1", CompletionToolName, `{"complete":true,"summary":"Survey finished."}`)),
			textResponse("Finished the survey."),
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	got, err := ctl.RunTask(context.Background(), "finish the survey", "", 10)
	if err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}
	if got != "Finished the survey." {
		t.Errorf("final text = %q", got)
	}
	if gw.count(CompletionToolName) != 0 {
		t.Error("completion report leaked to the gateway")
	}

	var ackSeen bool
	for _, m := range mock.calls[1].Messages {
		if m.Role == roleTool && strings.Contains(m.Content, "Report noted") {
			ackSeen = true
		}
	}
	if !ackSeen {
		t.Error("completion report was not acknowledged")
	}
}

func TestRunTask_UsageAccumulated(t *testing.T) {
	gw := newFakeGateway(portalTab())
	mock := &mockModel{
		responses: []*llm.ChatResponse{
			{
				Model:        "test-model",
				Message:      llm.Message{Role: roleAssistant, ToolCalls: []llm.ToolCall{toolCall("call-1", gateway.ToolClick, `{"selector":"a"}`)}},
				InputTokens:  100,
				OutputTokens: 10,
			},
			{
				Model:        "test-model",
				Message:      llm.Message{Role: roleAssistant, Content: "Done."},
				InputTokens:  200,
				OutputTokens: 20,
			},
		},
	}
	ctl := buildTestController(mock, gw, session.Config{})

	if _, err := ctl.RunTask(context.Background(), "click", "", 10); err != nil {
		t.Fatalf("RunTask() error: %v", err)
	}

	totals := ctl.Usage().Totals()
	if totals.Prompt != 300 || totals.Completion != 30 || totals.Total != 330 {
		t.Errorf("totals = %+v, want 300/30/330", totals)
	}
}

func TestRunTask_ContextCanceled(t *testing.T) {
	gw := newFakeGateway(portalTab())
	mock := &mockModel{responses: []*llm.ChatResponse{textResponse("never reached")}}
	ctl := buildTestController(mock, gw, session.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ctl.RunTask(ctx, "anything", "", 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("model called %d times after cancellation, want 0", len(mock.calls))
	}
}

func TestRunTask_ListToolsError(t *testing.T) {
	gw := newFakeGateway(portalTab())
	gw.listErr = errors.New("backend not running")
	mock := &mockModel{}
	ctl := buildTestController(mock, gw, session.Config{})

	_, err := ctl.RunTask(context.Background(), "anything", "", 10)
	if err == nil || !strings.Contains(err.Error(), "list tools") {
		t.Fatalf("error = %v, want list tools failure", err)
	}
}
