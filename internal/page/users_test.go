package page

import (
	"context"
	"net/http"
	"testing"
)

func usersAPI() *fakeAPI {
	f := newFakeAPI()
	f.users = []map[string]any{
		{"username": "alice", "name": "Alice"},
		{"username": "bob", "name": "Bob Builder", "email": "bob@example.com"},
		{"username": "carol", "name": "Carol"},
		{"username": "dave", "name": "Dave", "email": "dave@example.org"},
	}
	f.following["alice->bob"] = true
	f.followRequests = []map[string]any{
		{"id": "1", "requester": "alice", "target": "carol", "status": "pending"},
		{"id": "2", "requester": "alice", "target": "dave", "status": "rejected"},
	}
	return f
}

func mountUsers(t *testing.T, f *fakeAPI) *UsersPage {
	t.Helper()
	env := newTestEnv(t, f, "alice")
	p, err := NewUsersPage(context.Background(), env.deps)
	if err != nil {
		t.Fatalf("NewUsersPage() がエラーを返した: %v", err)
	}
	t.Cleanup(p.Unmount)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}
	return p
}

func TestUsersPage_LoadStatuses(t *testing.T) {
	p := mountUsers(t, usersAPI())

	rows := p.Users()
	if len(rows) != 3 {
		t.Fatalf("expected 3 users, got %d", len(rows))
	}
	want := map[string][2]bool{
		"bob":   {true, false},
		"carol": {false, true},
		"dave":  {false, false},
	}
	for _, r := range rows {
		w, ok := want[r.Username]
		if !ok {
			t.Errorf("unexpected user %q", r.Username)
			continue
		}
		if r.Following != w[0] || r.Requested != w[1] {
			t.Errorf("%s: expected following=%v requested=%v, got %v/%v", r.Username, w[0], w[1], r.Following, r.Requested)
		}
	}
}

func TestUsersPage_Search(t *testing.T) {
	p := mountUsers(t, usersAPI())

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"BOB", 1},
		{"builder", 1},
		{"example", 2},
		{"zzz", 0},
	}
	for _, tt := range tests {
		if got := len(p.Search(tt.query)); got != tt.want {
			t.Errorf("Search(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestUsersPage_RequestFollow(t *testing.T) {
	f := usersAPI()
	p := mountUsers(t, f)

	if err := p.RequestFollow(context.Background(), "dave"); err != nil {
		t.Fatalf("RequestFollow() がエラーを返した: %v", err)
	}
	r, _ := p.row("dave")
	if !r.Requested {
		t.Error("expected dave to be requested")
	}

	// 申請済みのユーザーには再送しない
	writes := f.writeCount()
	if err := p.RequestFollow(context.Background(), "carol"); err != nil {
		t.Fatalf("RequestFollow() がエラーを返した: %v", err)
	}
	if f.writeCount() != writes {
		t.Error("expected no request for an already requested user")
	}
}

func TestUsersPage_RequestFollowFailureRollsBack(t *testing.T) {
	f := usersAPI()
	f.failStatus["request_follow"] = http.StatusInternalServerError
	p := mountUsers(t, f)

	if err := p.RequestFollow(context.Background(), "dave"); err == nil {
		t.Fatal("expected error")
	}
	if r, _ := p.row("dave"); r.Requested {
		t.Error("expected requested to be rolled back")
	}
}

func TestUsersPage_RequestFollowFailureKeepsOtherRows(t *testing.T) {
	f := usersAPI()
	p := mountUsers(t, f)

	if err := p.Unfollow(context.Background(), "bob"); err != nil {
		t.Fatalf("Unfollow() がエラーを返した: %v", err)
	}
	f.set(func(f *fakeAPI) { f.failStatus["request_follow"] = http.StatusInternalServerError })
	if err := p.RequestFollow(context.Background(), "dave"); err == nil {
		t.Fatal("expected error")
	}

	if r, _ := p.row("bob"); r.Following {
		t.Error("bob must stay unfollowed after an unrelated failure")
	}
	if r, _ := p.row("dave"); r.Requested {
		t.Error("expected dave's request to be rolled back")
	}
}

func TestUsersPage_RequestFollowAlreadyFollowing(t *testing.T) {
	f := usersAPI()
	f.failStatus["request_follow"] = http.StatusBadRequest
	f.failDetail["request_follow"] = "Already following"
	p := mountUsers(t, f)

	if err := p.RequestFollow(context.Background(), "dave"); err != nil {
		t.Fatalf("RequestFollow() がエラーを返した: %v", err)
	}
	if r, _ := p.row("dave"); !r.Following || r.Requested {
		t.Errorf("expected following without request, got %+v", r)
	}
}

func TestUsersPage_Unfollow(t *testing.T) {
	f := usersAPI()
	p := mountUsers(t, f)

	if err := p.Unfollow(context.Background(), "bob"); err != nil {
		t.Fatalf("Unfollow() がエラーを返した: %v", err)
	}
	if r, _ := p.row("bob"); r.Following {
		t.Error("expected bob to be unfollowed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.following["alice->bob"] {
		t.Error("expected unfollow to reach the API")
	}
}
