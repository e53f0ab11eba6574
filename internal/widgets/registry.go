// Package widgets stores widget definitions and resolves widget instances to
// the definition they render.
package widgets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/golang/glog"
	"github.com/gowebpki/jcs"

	"github.com/g960059/a2ui/internal/db"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/wire"
)

var (
	ErrNotFound          = errors.New("widget not found")
	ErrInvalidConstraint = errors.New("invalid version constraint")
)

// DefaultVersion is stored for definitions that carry no version.
const DefaultVersion = "0.0.0"

const lookupTimeout = 2 * time.Second

type Summary struct {
	WidgetID  string    `json:"widgetId"`
	Name      string    `json:"name"`
	Versions  []string  `json:"versions"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Registry is backed by the sqlite store. Resolved instances are cached
// until the next write.
type Registry struct {
	store *db.Store
	codec *wire.Codec

	mu        sync.RWMutex
	instances map[string]model.Widget
}

func NewRegistry(store *db.Store, codec *wire.Codec) *Registry {
	return &Registry{store: store, codec: codec, instances: map[string]model.Widget{}}
}

// Put validates and stores a widget definition.
func (r *Registry) Put(ctx context.Context, raw []byte) (model.Widget, error) {
	w, err := r.codec.DecodeWidget(raw)
	if err != nil {
		return model.Widget{}, err
	}
	version := DefaultVersion
	if strings.TrimSpace(w.Version) != "" {
		v, err := semver.NewVersion(w.Version)
		if err != nil {
			return model.Widget{}, fmt.Errorf("%w: version %q: %v", wire.ErrInvalid, w.Version, err)
		}
		version = v.String()
	}
	w.Version = version
	body, err := json.Marshal(w)
	if err != nil {
		return model.Widget{}, fmt.Errorf("encode widget: %w", err)
	}
	canonical, err := jcs.Transform(body)
	if err != nil {
		return model.Widget{}, fmt.Errorf("canonicalize widget: %w", err)
	}
	if err := r.store.UpsertWidget(ctx, model.WidgetRecord{
		WidgetID: w.ID,
		Version:  version,
		Name:     w.Name,
		Body:     string(canonical),
	}); err != nil {
		return model.Widget{}, err
	}
	r.resetCache()
	return w, nil
}

// Get returns the highest stored version of widgetID that satisfies
// constraint. An empty constraint selects the latest version.
func (r *Registry) Get(ctx context.Context, widgetID, constraint string) (model.Widget, error) {
	var check *semver.Constraints
	if strings.TrimSpace(constraint) != "" {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return model.Widget{}, fmt.Errorf("%w: %q: %v", ErrInvalidConstraint, constraint, err)
		}
		check = c
	}
	records, err := r.store.ListWidgetVersions(ctx, widgetID)
	if err != nil {
		return model.Widget{}, err
	}

	type versioned struct {
		v   *semver.Version
		rec model.WidgetRecord
	}
	var candidates []versioned
	for _, rec := range records {
		v, err := semver.NewVersion(rec.Version)
		if err != nil {
			glog.V(1).Infof("[widgets] skip %s@%s: %v", rec.WidgetID, rec.Version, err)
			continue
		}
		if check != nil && !check.Check(v) {
			continue
		}
		candidates = append(candidates, versioned{v: v, rec: rec})
	}
	if len(candidates) == 0 {
		if constraint != "" {
			return model.Widget{}, fmt.Errorf("%w: %s %s", ErrNotFound, widgetID, constraint)
		}
		return model.Widget{}, fmt.Errorf("%w: %s", ErrNotFound, widgetID)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].v.GreaterThan(candidates[j].v)
	})
	var w model.Widget
	if err := json.Unmarshal([]byte(candidates[0].rec.Body), &w); err != nil {
		return model.Widget{}, fmt.Errorf("decode stored widget %s@%s: %w", widgetID, candidates[0].rec.Version, err)
	}
	return w, nil
}

func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	records, err := r.store.ListWidgets(ctx)
	if err != nil {
		return nil, err
	}
	out := []Summary{}
	idx := map[string]int{}
	for _, rec := range records {
		i, ok := idx[rec.WidgetID]
		if !ok {
			i = len(out)
			idx[rec.WidgetID] = i
			out = append(out, Summary{WidgetID: rec.WidgetID})
		}
		out[i].Versions = append(out[i].Versions, rec.Version)
		if !rec.UpdatedAt.Before(out[i].UpdatedAt) {
			out[i].UpdatedAt = rec.UpdatedAt
			out[i].Name = rec.Name
		}
	}
	return out, nil
}

func (r *Registry) Delete(ctx context.Context, widgetID string) error {
	if err := r.store.DeleteWidget(ctx, widgetID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, widgetID)
		}
		return err
	}
	r.resetCache()
	return nil
}

// BindInstance records which widget an instance id renders. A widgetRef
// version on the instance becomes the constraint used at lookup.
func (r *Registry) BindInstance(ctx context.Context, inst model.WidgetInstance) error {
	widgetID := inst.WidgetID
	constraint := ""
	if inst.WidgetRef != nil {
		if inst.WidgetRef.WidgetID != "" {
			widgetID = inst.WidgetRef.WidgetID
		}
		constraint = inst.WidgetRef.Version
	}
	if widgetID == "" {
		return fmt.Errorf("instance %s has no widget id", inst.InstanceID)
	}
	if err := r.store.UpsertInstance(ctx, model.InstanceRecord{
		InstanceID: inst.InstanceID,
		WidgetID:   widgetID,
		Constraint: constraint,
	}); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.instances, inst.InstanceID)
	r.mu.Unlock()
	return nil
}

// WidgetForInstance resolves an instance id through its binding.
func (r *Registry) WidgetForInstance(instanceID string) (model.Widget, bool) {
	r.mu.RLock()
	w, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if ok {
		return w, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	in, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			glog.Errorf("[widgets] lookup instance %s: %v", instanceID, err)
		}
		return model.Widget{}, false
	}
	w, err = r.Get(ctx, in.WidgetID, in.Constraint)
	if err != nil {
		glog.V(1).Infof("[widgets] instance %s: %v", instanceID, err)
		return model.Widget{}, false
	}
	r.mu.Lock()
	r.instances[instanceID] = w
	r.mu.Unlock()
	return w, true
}

func (r *Registry) resetCache() {
	r.mu.Lock()
	r.instances = map[string]model.Widget{}
	r.mu.Unlock()
}
