package tools_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/outbox"
	"github.com/lumenhq/lumen/internal/tools"
	"github.com/lumenhq/lumen/internal/transcript"
)

func TestSessionFlow(t *testing.T) {
	ctx := context.Background()
	e := newUnlockedEnv(t)
	start := tools.NewSessionStartTool(e.sessions)
	appendTool := tools.NewSessionAppendTool(e.sessions)
	end := tools.NewSessionEndTool(e.sessions)
	read := tools.NewSessionTranscriptTool(e.store, e.vault, testUser)

	text := mustOK(t, start, map[string]interface{}{"timezone": "UTC"})
	if !strings.Contains(text, "Started session #1") {
		t.Fatalf("start = %q", text)
	}
	if text := mustOK(t, start, nil); !strings.Contains(text, "Resumed session #1") {
		t.Errorf("second start should resume, got %q", text)
	}

	mustOK(t, appendTool, map[string]interface{}{"role": "user", "content": "I keep putting off my run."})
	mustOK(t, appendTool, map[string]interface{}{"role": "coach", "content": "What gets in the way?"})
	if e.rec.NextIndex() != 2 {
		t.Errorf("each append should write one chunk, next index = %d", e.rec.NextIndex())
	}
	if res := call(t, appendTool, map[string]interface{}{"role": "system", "content": "x"}); !res.IsError {
		t.Error("unknown role should be rejected")
	}
	if res := call(t, appendTool, map[string]interface{}{"role": "user", "content": "x", "timestamp": "yesterday"}); !res.IsError {
		t.Error("bad timestamp should be rejected")
	}

	text = mustOK(t, read, nil)
	if !strings.Contains(text, "**user:** I keep putting off my run.") || !strings.Contains(text, "Status: open") {
		t.Errorf("transcript = %q", text)
	}

	text = mustOK(t, end, nil)
	if !strings.Contains(text, "Ended session #1") || !strings.Contains(text, "Transcript hash: ") {
		t.Errorf("end = %q", text)
	}

	events, err := e.queue.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var types []outbox.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
		if ev.Type == outbox.SessionEnd && ev.TranscriptHash == "" {
			t.Error("end event without transcript hash")
		}
	}
	if len(types) != 2 {
		t.Errorf("outbox events = %v, want start and end", types)
	}

	if res := call(t, appendTool, map[string]interface{}{"role": "user", "content": "late"}); !res.IsError {
		t.Error("append after end should fail")
	}
	if res := call(t, end, nil); !res.IsError {
		t.Error("end with no active session should fail")
	}

	if text := mustOK(t, start, nil); !strings.Contains(text, "Started session #2") {
		t.Errorf("next start = %q", text)
	}
}

func TestSessionStart_Locked(t *testing.T) {
	e := newUnlockedEnv(t)
	e.vault.Lock(context.Background())

	res := call(t, tools.NewSessionStartTool(e.sessions), nil)
	if !res.IsError || !strings.Contains(resultText(res), "vault_unlock") {
		t.Errorf("start while locked = %q", resultText(res))
	}
	if _, _, err := e.sessions.Start(context.Background(), tools.StartParams{}); !errors.Is(err, lerrors.ErrVaultLocked) {
		t.Errorf("err = %v, want ErrVaultLocked", err)
	}
}

func TestSessionStart_RejectsUnknownTimezone(t *testing.T) {
	e := newUnlockedEnv(t)
	res := call(t, tools.NewSessionStartTool(e.sessions), map[string]interface{}{"timezone": "Mars/Olympus"})
	if !res.IsError {
		t.Error("unknown timezone should be rejected")
	}
}

func TestSessions_LockFlushesBufferedMessages(t *testing.T) {
	ctx := context.Background()
	e := newUnlockedEnv(t)

	tr, _, err := e.sessions.Start(ctx, tools.StartParams{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.rec.Add(transcript.Message{Role: transcript.RoleUser, Content: "buffered"}); err != nil {
		t.Fatal(err)
	}
	e.vault.Lock(ctx)
	if e.rec.Pending() != 0 {
		t.Errorf("pending after lock = %d", e.rec.Pending())
	}

	if err := e.vault.Unlock(ctx, testPassphrase); err != nil {
		t.Fatal(err)
	}
	msgs, err := e.store.ReadTranscriptMessages(ctx, tr.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "buffered" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSessionEnd_EmptySessionQueuesNoEndEvent(t *testing.T) {
	ctx := context.Background()
	e := newUnlockedEnv(t)
	if _, _, err := e.sessions.Start(ctx, tools.StartParams{}); err != nil {
		t.Fatal(err)
	}
	res, err := e.sessions.End(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.TranscriptHash != "" || !res.Transcript.Ended() {
		t.Errorf("end result = %+v", res)
	}
	events, err := e.queue.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != outbox.SessionStart {
		t.Errorf("events = %+v", events)
	}
}

func TestNotebookAndSummary_ThenContext(t *testing.T) {
	ctx := context.Background()
	e := newUnlockedEnv(t)
	start := tools.NewSessionStartTool(e.sessions)
	appendTool := tools.NewSessionAppendTool(e.sessions)
	notebook := tools.NewNotebookSaveTool(e.store, testUser)
	summary := tools.NewSummarySaveTool(e.store, testUser)
	contextTool := tools.NewSessionContextTool(e.asm, e.vault, testUser)

	mustOK(t, start, nil)
	mustOK(t, appendTool, map[string]interface{}{"role": "user", "content": "Sleep has been rough."})

	tr, err := e.store.ActiveTranscript(ctx, testUser)
	if err != nil {
		t.Fatal(err)
	}
	res := call(t, notebook, map[string]interface{}{"markdown": "early", "session_id": tr.SessionID})
	if !res.IsError || !strings.Contains(resultText(res), "still open") {
		t.Errorf("notebook on open session = %q", resultText(res))
	}

	mustOK(t, tools.NewSessionEndTool(e.sessions), nil)

	if text := mustOK(t, notebook, map[string]interface{}{"markdown": "Worked on a wind-down routine."}); !strings.Contains(text, "#1") {
		t.Errorf("notebook = %q", text)
	}
	res = call(t, notebook, map[string]interface{}{"markdown": "again"})
	if !res.IsError || !strings.Contains(resultText(res), "already has a notebook") {
		t.Errorf("second notebook = %q", resultText(res))
	}

	mustOK(t, summary, map[string]interface{}{
		"summary":      "Talked about sleep.",
		"action_steps": []interface{}{"Screens off at 22:00"},
		"open_threads": "- Caffeine after lunch",
	})
	sums, err := e.store.ListSummaries(ctx, testUser, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || len(sums[0].OpenThreads) != 1 || sums[0].OpenThreads[0] != "Caffeine after lunch" {
		t.Errorf("summaries = %+v", sums)
	}

	text := mustOK(t, contextTool, map[string]interface{}{"seed": float64(7)})
	for _, want := range []string{
		"session_number: 2",
		"Screens off at 22:00",
		"Worked on a wind-down routine.",
		"**user:** Sleep has been rough.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("context missing %q:\n%s", want, text)
		}
	}

	small := mustOK(t, contextTool, map[string]interface{}{"max_chars": float64(200)})
	if strings.Contains(small, "Sleep has been rough.") {
		t.Errorf("tiny budget should leave the transcript out:\n%s", small)
	}
}

func TestSessionTranscript_UnknownSession(t *testing.T) {
	e := newUnlockedEnv(t)
	read := tools.NewSessionTranscriptTool(e.store, e.vault, testUser)

	if text := mustOK(t, read, nil); text != "No sessions recorded yet." {
		t.Errorf("empty = %q", text)
	}
	res := call(t, read, map[string]interface{}{"session_id": "nope"})
	if !res.IsError || !strings.Contains(resultText(res), "not found") {
		t.Errorf("unknown session = %q", resultText(res))
	}
}
