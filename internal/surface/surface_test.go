package surface

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/g960059/a2ui/internal/model"
)

func column(id string, children ...string) model.SurfaceComponent {
	return model.SurfaceComponent{ID: id, Component: model.NewComponent("column", map[string]any{
		"children": model.ExplicitList(children),
	})}
}

func text(id, content string) model.SurfaceComponent {
	return model.SurfaceComponent{ID: id, Component: model.NewComponent("text", map[string]any{
		"content": model.LiteralString{Value: content},
	})}
}

func TestNewIndexesParents(t *testing.T) {
	s := New("s", "A", "", []model.SurfaceComponent{column("A", "B", "C"), column("D", "B"), text("B", "b"), text("C", "c")})
	if diff := cmp.Diff([]string{"A", "D"}, s.Parents("B")); diff != "" {
		t.Fatalf("parents of B (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A"}, s.Parents("C")); diff != "" {
		t.Fatalf("parents of C (-want +got):\n%s", diff)
	}
}

func TestWithComponentReplacesAndReindexes(t *testing.T) {
	s := New("s", "A", "", []model.SurfaceComponent{column("A", "B"), text("B", "b")})
	next := s.WithComponent(column("A", "C"))
	if len(next.Parents("B")) != 0 {
		t.Fatalf("B should no longer have a parent: %v", next.Parents("B"))
	}
	if diff := cmp.Diff([]string{"A"}, next.Parents("C")); diff != "" {
		t.Fatalf("parents of C (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A"}, s.Parents("B")); diff != "" {
		t.Fatalf("earlier surface changed (-want +got):\n%s", diff)
	}
}

func TestWithoutComponentStripsFromParents(t *testing.T) {
	s := New("s", "A", "", []model.SurfaceComponent{column("A", "B", "C", "B"), column("D", "B"), text("B", "b"), text("C", "c")})
	next := s.WithoutComponent("B")
	if _, ok := next.Component("B"); ok {
		t.Fatalf("B still present")
	}
	a, _ := next.Component("A")
	d, _ := next.Component("D")
	if diff := cmp.Diff([]string{"C"}, []string(a.ExplicitChildren())); diff != "" {
		t.Fatalf("A children (-want +got):\n%s", diff)
	}
	if len(d.ExplicitChildren()) != 0 {
		t.Fatalf("D children = %v", d.ExplicitChildren())
	}
	if len(next.Parents("B")) != 0 {
		t.Fatalf("parent index still lists B")
	}
	orig, _ := s.Component("A")
	if len(orig.ExplicitChildren()) != 3 {
		t.Fatalf("earlier surface changed: %v", orig.ExplicitChildren())
	}
}

func TestWithoutComponentUnknownIsNoop(t *testing.T) {
	s := New("s", "A", "", []model.SurfaceComponent{column("A", "B"), text("B", "b")})
	next := s.WithoutComponent("Z")
	if next.Len() != 2 {
		t.Fatalf("len = %d", next.Len())
	}
}

func TestFingerprintStable(t *testing.T) {
	comps := []model.SurfaceComponent{column("A", "B"), text("B", "b")}
	a, err := New("s", "A", "cat", comps).Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	reversed := []model.SurfaceComponent{comps[1], comps[0]}
	b, err := New("s", "A", "cat", reversed).Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("fingerprints differ for equal content: %s vs %s", a, b)
	}
	c, _ := New("s", "A", "cat", []model.SurfaceComponent{column("A", "B"), text("B", "changed")}).Fingerprint()
	if c == a {
		t.Fatalf("fingerprint did not change with content")
	}
}

func TestStoreOrder(t *testing.T) {
	st := NewStore()
	st.Put(New("one", "r", "", nil))
	st.Put(New("two", "r", "", nil))
	st.Put(New("one", "r2", "", nil))
	first, ok := st.First()
	if !ok || first.ID() != "one" || first.RootComponentID() != "r2" {
		t.Fatalf("first = %+v, %v", first.View(), ok)
	}
	st.Delete("one")
	first, _ = st.First()
	if first.ID() != "two" {
		t.Fatalf("first after delete = %s", first.ID())
	}
	if st.Delete("one") {
		t.Fatalf("second delete should report false")
	}
}
