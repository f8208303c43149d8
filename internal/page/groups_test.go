package page

import (
	"context"
	"testing"
)

func TestGroupsPage_LoadAndCreate(t *testing.T) {
	f := newFakeAPI()
	f.groups = []map[string]any{{"grpname": "gophers", "admin": "bob", "groupbio": "Go <script>x</script>users"}}
	env := newTestEnv(t, f, "alice")
	p, err := NewGroupsPage(context.Background(), env.deps)
	if err != nil {
		t.Fatalf("NewGroupsPage() がエラーを返した: %v", err)
	}
	t.Cleanup(p.Unmount)

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}
	groups := p.Groups()
	if len(groups) != 1 || groups[0].Name != "gophers" || groups[0].Admin != "bob" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	if err := p.Create(context.Background(), " ", "", nil); err == nil {
		t.Error("expected error for empty group name")
	}
	if err := p.Create(context.Background(), "rustaceans", "crabs", nil); err != nil {
		t.Fatalf("Create() がエラーを返した: %v", err)
	}
	groups = p.Groups()
	if len(groups) != 2 || groups[1].Name != "rustaceans" || groups[1].Admin != "alice" {
		t.Errorf("expected created group with alice as admin, got %+v", groups)
	}
}
