package gather

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/surface"
)

func fixture(t *testing.T) (*surface.Store, *datamodel.Registry) {
	t.Helper()
	surfaces := surface.NewStore()
	surfaces.Put(surface.New("form", "root", "", []model.SurfaceComponent{
		{ID: "name", Component: model.NewComponent("textField", map[string]any{
			"value": map[string]any{"path": "user.name"},
		})},
		{ID: "agree", Component: model.NewComponent("checkbox", map[string]any{
			"checked": model.LiteralBool{Value: false},
			"content": model.LiteralString{Value: "ignored"},
		})},
		{ID: "title", Component: model.NewComponent("text", map[string]any{
			"content": model.LiteralString{Value: "Sign up"},
		})},
		{ID: "spacer", Component: model.NewComponent("divider", nil)},
	}))
	data := datamodel.NewRegistry()
	data.Init("form", []model.DataEntry{{Path: "user.name", Value: ""}})
	return surfaces, data
}

func TestGatherReadsFirstValueField(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	surfaces, data := fixture(t)
	g := New(ctx, surfaces, data, time.Minute)
	fixed := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return fixed }

	ids := []string{"form/name", "form/agree", "title", "form/spacer", "nope/x"}
	res := g.Gather(ids)
	want := map[string]Element{
		"form/name":  {Path: "user.name", Value: "", Timestamp: fixed.UnixMilli()},
		"form/agree": {Path: "agree", Value: false, Timestamp: fixed.UnixMilli()},
		"title":      {Path: "title", Value: "Sign up", Timestamp: fixed.UnixMilli()},
	}
	if diff := cmp.Diff(want, res.Elements); diff != "" {
		t.Fatalf("elements (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ids, res.RequestedIDs); diff != "" {
		t.Fatalf("requested ids (-want +got):\n%s", diff)
	}
}

func TestGatherCachesUntilInvalidated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	surfaces, data := fixture(t)
	g := New(ctx, surfaces, data, time.Minute)

	if got := g.Gather([]string{"form/name"}).Elements["form/name"].Value; got != "" {
		t.Fatalf("initial value = %v", got)
	}
	st, _ := data.Get("form")
	st.Set("user.name", "ada")
	if got := g.Gather([]string{"form/name"}).Elements["form/name"].Value; got != "" {
		t.Fatalf("cached value should be served, got %v", got)
	}
	g.InvalidateSurface("form")
	if got := g.Gather([]string{"form/name"}).Elements["form/name"].Value; got != "ada" {
		t.Fatalf("value after invalidation = %v", got)
	}
}

func TestGatherCacheExpires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	surfaces, data := fixture(t)
	g := New(ctx, surfaces, data, 50*time.Millisecond)

	g.Gather([]string{"form/name"})
	st, _ := data.Get("form")
	st.Set("user.name", "grace")
	time.Sleep(80 * time.Millisecond)
	if got := g.Gather([]string{"form/name"}).Elements["form/name"].Value; got != "grace" {
		t.Fatalf("expired entry served: %v", got)
	}
}

func TestGatherersDoNotShareCaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	surfaces, data := fixture(t)
	a := New(ctx, surfaces, data, time.Minute)
	b := New(ctx, surfaces, data, time.Minute)
	a.Gather([]string{"form/title"})
	if a.Len() != 1 || b.Len() != 0 {
		t.Fatalf("cache sizes a=%d b=%d", a.Len(), b.Len())
	}
}
