package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"agentbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "agentbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestExecutionRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i, status := range []string{"success", "error", "timeout"} {
		e := Execution{
			Source:   "telegram",
			Prompt:   "prompt",
			Output:   "output",
			Duration: time.Duration(i+1) * time.Second,
			WorkDir:  "/tmp",
			Status:   status,
		}
		if err := st.RecordExecution(ctx, e); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	got, err := st.RecentExecutions(ctx, 2)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	// Oldest first within the window.
	if got[0].Status != "error" || got[1].Status != "timeout" {
		t.Fatalf("unexpected order: %s, %s", got[0].Status, got[1].Status)
	}
	if got[1].Duration != 3*time.Second {
		t.Fatalf("Duration = %v, want 3s", got[1].Duration)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveConversation(ctx, Conversation{UserMessage: "hi", AssistantResponse: "hello", WorkDir: "/home"}); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	got, err := st.RecentConversations(ctx, 5)
	if err != nil {
		t.Fatalf("RecentConversations: %v", err)
	}
	if len(got) != 1 || got[0].UserMessage != "hi" || got[0].AssistantResponse != "hello" {
		t.Fatalf("unexpected conversations: %+v", got)
	}

	if err := st.ClearConversations(ctx); err != nil {
		t.Fatalf("ClearConversations: %v", err)
	}
	got, err = st.RecentConversations(ctx, 5)
	if err != nil {
		t.Fatalf("RecentConversations after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %d", len(got))
	}
}

func TestCronJobCRUD(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	job := CronJob{
		ID:      "ab12cd34",
		Name:    "daily report",
		Spec:    "0 9 * * *",
		Prompt:  "write the daily report",
		WorkDir: "/srv/reports",
		Enabled: true,
	}
	if err := st.PutCronJob(ctx, job); err != nil {
		t.Fatalf("PutCronJob: %v", err)
	}

	list, err := st.ListCronJobs(ctx)
	if err != nil {
		t.Fatalf("ListCronJobs: %v", err)
	}
	if len(list) != 1 || list[0] != job {
		t.Fatalf("unexpected list: %+v", list)
	}

	// Upsert flips enabled in place.
	job.Enabled = false
	if err := st.PutCronJob(ctx, job); err != nil {
		t.Fatalf("PutCronJob update: %v", err)
	}
	got, ok, err := st.GetCronJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("GetCronJob: ok=%v err=%v", ok, err)
	}
	if got.Enabled {
		t.Fatal("enabled should be false after update")
	}

	existed, err := st.DeleteCronJob(ctx, job.ID)
	if err != nil || !existed {
		t.Fatalf("DeleteCronJob: existed=%v err=%v", existed, err)
	}
	existed, err = st.DeleteCronJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("DeleteCronJob second: %v", err)
	}
	if existed {
		t.Fatal("second delete should report missing entry")
	}
}
