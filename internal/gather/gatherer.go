// Package gather answers requestElements by reading current component values.
package gather

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"

	"github.com/g960059/a2ui/internal/binding"
	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/surface"
)

const DefaultTTL = 5 * time.Second

// valueFields are probed in order; the first one present wins.
var valueFields = []string{"value", "checked", "content"}

type Element struct {
	Path      string `json:"path"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

type Result struct {
	Elements     map[string]Element `json:"elements"`
	RequestedIDs []string           `json:"requestedIds"`
}

// Gatherer reads element values from the surface and data stores. Answers
// are cached per element id for the configured TTL.
type Gatherer struct {
	surfaces *surface.Store
	data     *datamodel.Registry
	cache    *ttlcache.Cache[string, Element]
	now      func() time.Time
}

// New returns a Gatherer whose cache expires entries after ttl. The cache
// janitor stops when ctx is done.
func New(ctx context.Context, surfaces *surface.Store, data *datamodel.Registry, ttl time.Duration) *Gatherer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := ttlcache.New[string, Element](
		ttlcache.WithTTL[string, Element](ttl),
		// a hit must not extend freshness past the ttl
		ttlcache.WithDisableTouchOnHit[string, Element](),
		ttlcache.WithCapacity[string, Element](10_000),
	)
	go cache.Start()
	go func() {
		<-ctx.Done()
		cache.Stop()
	}()
	return &Gatherer{surfaces: surfaces, data: data, cache: cache, now: time.Now}
}

// Gather returns the current value of each requested element. Ids that do not
// resolve are listed in RequestedIDs but absent from Elements.
func (g *Gatherer) Gather(ids []string) Result {
	out := Result{
		Elements:     make(map[string]Element, len(ids)),
		RequestedIDs: append([]string{}, ids...),
	}
	for _, id := range ids {
		if item := g.cache.Get(id); item != nil {
			out.Elements[id] = item.Value()
			continue
		}
		el, ok := g.read(id)
		if !ok {
			glog.V(2).Infof("[gather] element %q not found", id)
			continue
		}
		g.cache.Set(id, el, ttlcache.DefaultTTL)
		out.Elements[id] = el
	}
	return out
}

func (g *Gatherer) read(id string) (Element, bool) {
	surfaceID, componentID := model.SplitElementID(id)
	var (
		s  surface.Surface
		ok bool
	)
	if surfaceID == "" {
		s, ok = g.surfaces.First()
	} else {
		s, ok = g.surfaces.Get(surfaceID)
	}
	if !ok {
		return Element{}, false
	}
	c, ok := s.Component(componentID)
	if !ok {
		return Element{}, false
	}
	var data binding.Getter
	if st, ok := g.data.Get(s.ID()); ok {
		data = st
	}
	for _, field := range valueFields {
		raw, ok := c.Component.Get(field)
		if !ok {
			continue
		}
		el := Element{Path: componentID, Timestamp: g.now().UnixMilli()}
		if ref, isRef := raw.(model.PathRef); isRef {
			el.Path = ref.Path
		}
		el.Value = binding.ResolveAny(data, raw, nil)
		return el, true
	}
	return Element{}, false
}

// InvalidateSurface drops cached answers for one surface. Bare ids are
// dropped along with it since they may address any surface.
func (g *Gatherer) InvalidateSurface(surfaceID string) {
	prefix := surfaceID + "/"
	for _, key := range g.cache.Keys() {
		if strings.HasPrefix(key, prefix) || !strings.Contains(key, "/") {
			g.cache.Delete(key)
		}
	}
}

func (g *Gatherer) Len() int {
	return g.cache.Len()
}
