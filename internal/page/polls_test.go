package page

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func pollsAPI() *fakeAPI {
	f := newFakeAPI()
	f.polls = []map[string]any{
		{"id_": "p1", "username": "bob", "name": "Bob", "content_": "Tabs or spaces?"},
		{"id_": "p2", "username": "alice", "name": "Alice", "content_": "Lunch?"},
	}
	f.pollDetails["p1"] = map[string]any{
		"options": []any{"tabs", "spaces"},
		"count":   []any{[]any{"tabs", 2}, []any{"spaces", 1}},
		"voted":   []any{"bob", "carol", "dave"},
	}
	f.pollDetails["p2"] = map[string]any{
		"options": []any{"ramen", "sushi"},
		"count":   []any{[]any{"ramen", 0}, []any{"sushi", 0}},
		"voted":   []any{},
	}
	return f
}

func mountPolls(t *testing.T, f *fakeAPI) *PollsPage {
	t.Helper()
	env := newTestEnv(t, f, "alice")
	p, err := NewPollsPage(context.Background(), env.deps)
	if err != nil {
		t.Fatalf("NewPollsPage() がエラーを返した: %v", err)
	}
	t.Cleanup(p.Unmount)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}
	return p
}

func TestPollsPage_LoadWithDetails(t *testing.T) {
	p := mountPolls(t, pollsAPI())

	poll, ok := p.find("p1")
	if !ok {
		t.Fatal("poll p1 not found")
	}
	if len(poll.Options) != 2 || poll.Counts["tabs"] != 2 || poll.TotalVotes() != 3 {
		t.Errorf("unexpected poll %+v", poll)
	}
}

func TestPollsPage_VoteThenRefetch(t *testing.T) {
	f := pollsAPI()
	p := mountPolls(t, f)
	before := f.fetchCount("poll")

	if err := p.Vote(context.Background(), "p1", "spaces"); err != nil {
		t.Fatalf("Vote() がエラーを返した: %v", err)
	}
	if f.fetchCount("poll") != before+1 {
		t.Errorf("expected one detail refetch, got %d", f.fetchCount("poll")-before)
	}

	poll, _ := p.find("p1")
	if poll.Counts["spaces"] != 2 || !poll.HasVoted("alice") {
		t.Errorf("unexpected poll after vote %+v", poll)
	}
	if err := p.Vote(context.Background(), "p1", "tabs"); !errors.Is(err, ErrAlreadyVoted) {
		t.Errorf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestPollsPage_VoteFailureRollsBack(t *testing.T) {
	f := pollsAPI()
	f.failStatus["cast_vote"] = http.StatusInternalServerError
	p := mountPolls(t, f)

	if err := p.Vote(context.Background(), "p1", "spaces"); err == nil {
		t.Fatal("expected error")
	}
	poll, _ := p.find("p1")
	if poll.Counts["spaces"] != 1 || poll.HasVoted("alice") {
		t.Errorf("expected rollback, got %+v", poll)
	}
}

func TestPollsPage_VoteUnknownOption(t *testing.T) {
	p := mountPolls(t, pollsAPI())

	if err := p.Vote(context.Background(), "p1", "both"); err == nil {
		t.Error("expected error for unknown option")
	}
}

func TestPollsPage_Create(t *testing.T) {
	f := pollsAPI()
	p := mountPolls(t, f)

	if err := p.Create(context.Background(), "Q?", "only one"); err == nil {
		t.Error("expected error for a single option")
	}
	if err := p.Create(context.Background(), "  ", "a", "b"); err == nil {
		t.Error("expected error for empty question")
	}

	if err := p.Create(context.Background(), "Coffee?", "yes", " ", "no"); err != nil {
		t.Fatalf("Create() がエラーを返した: %v", err)
	}
	poll, ok := p.find("p3")
	if !ok {
		t.Fatalf("expected new poll in list, got %+v", p.Polls())
	}
	if poll.Author != "alice" || poll.Question != "Coffee?" || len(poll.Options) != 2 {
		t.Errorf("unexpected poll %+v", poll)
	}
}

func TestPollsPage_DeleteOthersForbidden(t *testing.T) {
	p := mountPolls(t, pollsAPI())

	if err := p.Delete(context.Background(), "p1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
