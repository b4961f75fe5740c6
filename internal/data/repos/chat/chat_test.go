package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
)

func TestConversationRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	log := testutil.Logger(t)

	convs := NewConversationRepo(db, log)
	msgs := NewMessageRepo(db, log)
	votes := NewVoteRepo(db, log)
	streams := NewStreamRepo(db, log)

	owner := uuid.New()
	c, err := convs.Create(dbc, &chat.Conversation{UserID: owner, Title: "hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Visibility != chat.VisibilityPrivate {
		t.Fatalf("default visibility: want=%s got=%s", chat.VisibilityPrivate, c.Visibility)
	}

	base := time.Now().UTC().Add(-time.Minute)
	u1 := testutil.SeedMessage(t, ctx, db, c.ID, chat.RoleUser, "first", base)
	a1 := testutil.SeedMessage(t, ctx, db, c.ID, chat.RoleAssistant, "reply", base.Add(time.Second))
	if err := votes.Upsert(dbc, &chat.Vote{ConversationID: c.ID, MessageID: a1.ID, IsUpvoted: true}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := streams.CreateHandle(dbc, c.ID); err != nil {
		t.Fatalf("CreateHandle: %v", err)
	}

	list, err := msgs.ListByConversation(dbc, c.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByConversation: err=%v len=%d", err, len(list))
	}
	if list[0].ID != u1.ID || list[1].ID != a1.ID {
		t.Fatalf("order: want=[%s %s] got=[%s %s]", u1.ID, a1.ID, list[0].ID, list[1].ID)
	}
	latest, err := msgs.Latest(dbc, c.ID)
	if err != nil || latest == nil || latest.ID != a1.ID {
		t.Fatalf("Latest: err=%v got=%v", err, latest)
	}

	if err := convs.DeleteCascade(dbc, c.ID); err != nil {
		t.Fatalf("DeleteCascade: %v", err)
	}
	if got, _ := convs.GetByID(dbc, c.ID); got != nil {
		t.Fatalf("conversation still present after delete")
	}
	if rows, _ := msgs.ListByConversation(dbc, c.ID); len(rows) != 0 {
		t.Fatalf("messages after delete: want=0 got=%d", len(rows))
	}
	if rows, _ := votes.ListByConversation(dbc, c.ID); len(rows) != 0 {
		t.Fatalf("votes after delete: want=0 got=%d", len(rows))
	}
	if ids, _ := streams.ListIDs(dbc, c.ID); len(ids) != 0 {
		t.Fatalf("streams after delete: want=0 got=%d", len(ids))
	}
}

func TestMessageRepoDeleteFrom(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	log := testutil.Logger(t)
	msgs := NewMessageRepo(db, log)
	votes := NewVoteRepo(db, log)

	c := testutil.SeedConversation(t, ctx, db, uuid.New(), chat.VisibilityPrivate)
	base := time.Now().UTC().Add(-time.Hour)
	testutil.SeedMessage(t, ctx, db, c.ID, chat.RoleUser, "q1", base)
	testutil.SeedMessage(t, ctx, db, c.ID, chat.RoleAssistant, "a1", base.Add(time.Second))
	edited := testutil.SeedMessage(t, ctx, db, c.ID, chat.RoleUser, "q2", base.Add(2*time.Second))
	a2 := testutil.SeedMessage(t, ctx, db, c.ID, chat.RoleAssistant, "a2", base.Add(3*time.Second))
	if err := votes.Upsert(dbc, &chat.Vote{ConversationID: c.ID, MessageID: a2.ID, IsUpvoted: false}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := msgs.DeleteFrom(dbc, c.ID, edited.CreatedAt)
	if err != nil {
		t.Fatalf("DeleteFrom: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted: want=2 got=%d", n)
	}
	rest, _ := msgs.ListByConversation(dbc, c.ID)
	if len(rest) != 2 || rest[1].Text() != "a1" {
		t.Fatalf("remaining: want=[q1 a1] got len=%d", len(rest))
	}
	if vs, _ := votes.ListByConversation(dbc, c.ID); len(vs) != 0 {
		t.Fatalf("trailing votes: want=0 got=%d", len(vs))
	}
}

func TestVoteRepoUpsertFlips(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	votes := NewVoteRepo(db, testutil.Logger(t))

	convID, msgID := uuid.New(), uuid.New()
	for _, up := range []bool{true, false} {
		if err := votes.Upsert(dbc, &chat.Vote{ConversationID: convID, MessageID: msgID, IsUpvoted: up}); err != nil {
			t.Fatalf("Upsert(%v): %v", up, err)
		}
	}
	rows, err := votes.ListByConversation(dbc, convID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListByConversation: err=%v len=%d", err, len(rows))
	}
	if rows[0].IsUpvoted {
		t.Fatalf("is_upvoted: want=false got=true")
	}
}

func TestStreamRepoLatestIsNewest(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	streams := NewStreamRepo(db, testutil.Logger(t))
	convID := uuid.New()

	if h, err := streams.Latest(dbc, convID); err != nil || h != nil {
		t.Fatalf("Latest on empty: err=%v got=%v", err, h)
	}
	var last uuid.UUID
	for i := 0; i < 3; i++ {
		h, err := streams.CreateHandle(dbc, convID)
		if err != nil {
			t.Fatalf("CreateHandle: %v", err)
		}
		last = h.ID
		time.Sleep(2 * time.Millisecond)
	}
	ids, err := streams.ListIDs(dbc, convID)
	if err != nil || len(ids) != 3 || ids[2] != last {
		t.Fatalf("ListIDs: err=%v ids=%v last=%s", err, ids, last)
	}
	h, err := streams.Latest(dbc, convID)
	if err != nil || h == nil || h.ID != last {
		t.Fatalf("Latest: err=%v got=%v want=%s", err, h, last)
	}
}
