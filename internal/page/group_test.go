package page

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/worker/poller"
)

func groupAPI() *fakeAPI {
	f := newFakeAPI()
	f.group = map[string]any{"grpname": "gophers", "admin": "alice", "groupbio": "Go users"}
	f.members = []string{"alice", "carol"}
	f.joinRequests = []map[string]any{
		{"id": "42", "username": "bob", "status": "pending"},
		{"id": "43", "username": "dave", "status": "rejected"},
	}
	f.groupChat = []map[string]any{{"sender": "carol", "message": "hi"}}
	return f
}

func mountGroup(t *testing.T, f *fakeAPI, viewer string, interval time.Duration) (*GroupPage, *testEnv) {
	t.Helper()
	env := newTestEnv(t, f, viewer)
	env.deps.ChatInterval = interval
	env.deps.RequestInterval = interval
	p, err := NewGroupPage(context.Background(), env.deps, "gophers")
	if err != nil {
		t.Fatalf("NewGroupPage() がエラーを返した: %v", err)
	}
	t.Cleanup(p.Unmount)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}
	return p, env
}

func TestGroupPage_AdminLoad(t *testing.T) {
	p, env := mountGroup(t, groupAPI(), "alice", time.Hour)

	if !p.IsAdmin() {
		t.Error("expected alice to be admin")
	}
	if p.Membership() != model.MembershipMember {
		t.Errorf("expected member, got %q", p.Membership())
	}
	if len(p.Chat()) != 1 {
		t.Errorf("expected chat loaded, got %d", len(p.Chat()))
	}
	if len(p.PendingJoinRequests()) != 1 {
		t.Errorf("expected 1 pending join request, got %d", len(p.PendingJoinRequests()))
	}

	for _, purpose := range []string{poller.PurposeChat, poller.PurposeJoinRequests, poller.PurposeFollowRequests} {
		if !env.scheduler.Active(p.ID(), purpose) {
			t.Errorf("expected %s loop to be active", purpose)
		}
	}
}

func TestGroupPage_NonMemberLoad(t *testing.T) {
	f := groupAPI()
	f.joinRequests = append(f.joinRequests, map[string]any{"id": "44", "username": "erin", "status": "pending"})
	p, env := mountGroup(t, f, "erin", time.Hour)

	if p.IsAdmin() {
		t.Error("erin must not be admin")
	}
	if p.Membership() != model.MembershipPending {
		t.Errorf("expected pending, got %q", p.Membership())
	}
	if f.fetchCount("group_chat") != 0 {
		t.Error("non-members must not load chat")
	}
	if env.scheduler.Count() != 0 {
		t.Errorf("expected no polling loops, got %d", env.scheduler.Count())
	}
}

func TestGroupPage_ApproveJoin42RefreshesMembers(t *testing.T) {
	f := groupAPI()
	p, _ := mountGroup(t, f, "alice", time.Hour)
	membersBefore := f.fetchCount("members")

	reqs, err := p.DecideJoinRequest(context.Background(), "42", model.DecisionApproved)
	if err != nil {
		t.Fatalf("DecideJoinRequest() がエラーを返した: %v", err)
	}

	for _, r := range reqs {
		if r.ID == "42" && r.Pending() {
			t.Error("request 42 must no longer be pending")
		}
	}
	if f.fetchCount("members") != membersBefore+1 {
		t.Errorf("expected exactly one members refetch, got %d", f.fetchCount("members")-membersBefore)
	}
	if !containsString(p.Members(), "bob") {
		t.Errorf("expected bob in members, got %v", p.Members())
	}
}

func TestGroupPage_DecideJoinRequestRequiresAdmin(t *testing.T) {
	f := groupAPI()
	p, _ := mountGroup(t, f, "carol", time.Hour)

	_, err := p.DecideJoinRequest(context.Background(), "42", model.DecisionApproved)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestGroupPage_DecideJoinRequestInvalidDecision(t *testing.T) {
	f := groupAPI()
	p, _ := mountGroup(t, f, "alice", time.Hour)

	_, err := p.DecideJoinRequest(context.Background(), "42", model.Decision("maybe"))
	if !errors.Is(err, model.ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}
	if n := f.writeCount(); n != 0 {
		t.Errorf("no write should reach the API, got %d", n)
	}
}

func TestGroupPage_RequestJoinImmediate(t *testing.T) {
	f := groupAPI()
	f.joinResult = map[string]any{"status": "success", "message": "joined successfully"}
	p, env := mountGroup(t, f, "erin", time.Hour)

	if err := p.RequestJoin(context.Background()); err != nil {
		t.Fatalf("RequestJoin() がエラーを返した: %v", err)
	}
	if p.Membership() != model.MembershipMember {
		t.Errorf("expected member, got %q", p.Membership())
	}
	if !containsString(p.Members(), "erin") {
		t.Errorf("expected members refetched, got %v", p.Members())
	}
	if !env.scheduler.Active(p.ID(), poller.PurposeChat) {
		t.Error("expected chat polling after joining")
	}
}

func TestGroupPage_RequestJoinPending(t *testing.T) {
	p, env := mountGroup(t, groupAPI(), "erin", time.Hour)

	if err := p.RequestJoin(context.Background()); err != nil {
		t.Fatalf("RequestJoin() がエラーを返した: %v", err)
	}
	if p.Membership() != model.MembershipPending {
		t.Errorf("expected pending, got %q", p.Membership())
	}
	if env.scheduler.Count() != 0 {
		t.Errorf("expected no polling loops, got %d", env.scheduler.Count())
	}
}

func TestGroupPage_RemoveMember(t *testing.T) {
	f := groupAPI()
	p, _ := mountGroup(t, f, "alice", time.Hour)

	if err := p.RemoveMember(context.Background(), "alice"); !errors.Is(err, ErrForbidden) {
		t.Errorf("admin must not remove self, got %v", err)
	}
	if err := p.RemoveMember(context.Background(), "carol"); err != nil {
		t.Fatalf("RemoveMember() がエラーを返した: %v", err)
	}
	if containsString(p.Members(), "carol") {
		t.Errorf("expected carol removed, got %v", p.Members())
	}
}

func TestGroupPage_SendMessage(t *testing.T) {
	p, _ := mountGroup(t, groupAPI(), "carol", time.Hour)

	if err := p.SendMessage(context.Background(), "  hello  "); err != nil {
		t.Fatalf("SendMessage() がエラーを返した: %v", err)
	}
	chat := p.Chat()
	if len(chat) != 2 || chat[1].Body != "hello" || chat[1].Sender != "carol" {
		t.Errorf("unexpected chat %+v", chat)
	}
	if err := p.SendMessage(context.Background(), "  "); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestGroupPage_PollsChatAndStopsOnUnmount(t *testing.T) {
	f := groupAPI()
	p, env := mountGroup(t, f, "alice", 10*time.Millisecond)

	waitFor(t, time.Second, func() bool { return f.fetchCount("group_chat") >= 3 })
	waitFor(t, time.Second, func() bool { return f.fetchCount("join_requests") >= 3 })

	p.Unmount()
	if env.scheduler.Count() != 0 {
		t.Errorf("expected all loops stopped, got %d", env.scheduler.Count())
	}

	time.Sleep(15 * time.Millisecond)
	after := f.fetchCount("group_chat")
	time.Sleep(50 * time.Millisecond)
	if got := f.fetchCount("group_chat"); got != after {
		t.Errorf("chat fetched after unmount: %d -> %d", after, got)
	}
}

func TestGroupPage_LeaveStopsChatPolling(t *testing.T) {
	p, env := mountGroup(t, groupAPI(), "carol", time.Hour)

	if !env.scheduler.Active(p.ID(), poller.PurposeChat) {
		t.Fatal("expected chat polling for member")
	}
	if err := p.Leave(context.Background()); err != nil {
		t.Fatalf("Leave() がエラーを返した: %v", err)
	}
	if env.scheduler.Active(p.ID(), poller.PurposeChat) {
		t.Error("expected chat polling stopped after leaving")
	}
	if p.Membership() != model.MembershipNone {
		t.Errorf("expected not-member, got %q", p.Membership())
	}
}

func TestGroupPage_RemovedMemberStopsChatPolling(t *testing.T) {
	f := groupAPI()
	p, env := mountGroup(t, f, "carol", 10*time.Millisecond)

	if !env.scheduler.Active(p.ID(), poller.PurposeChat) {
		t.Fatal("expected chat polling for member")
	}
	f.set(func(f *fakeAPI) { f.members = []string{"alice"} })

	waitFor(t, time.Second, func() bool { return !env.scheduler.Active(p.ID(), poller.PurposeChat) })
	if p.Membership() != model.MembershipNone {
		t.Errorf("expected not-member after removal, got %q", p.Membership())
	}

	time.Sleep(15 * time.Millisecond)
	after := f.fetchCount("group_chat")
	time.Sleep(50 * time.Millisecond)
	if got := f.fetchCount("group_chat"); got != after {
		t.Errorf("chat fetched after removal: %d -> %d", after, got)
	}
}
