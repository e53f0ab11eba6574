// Package surface holds the component trees of rendered surfaces.
package surface

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
	"src.elv.sh/pkg/persistent/hash"
	"src.elv.sh/pkg/persistent/hashmap"

	"github.com/g960059/a2ui/internal/model"
)

func emptyMap() hashmap.Map {
	return hashmap.New(
		func(a, b any) bool { return a == b },
		func(k any) uint32 { return hash.String(k.(string)) },
	)
}

// Surface is an immutable component tree. Every With/Without call returns a
// new Surface sharing unchanged entries with the receiver.
//
// parents maps a child id to the ids of components whose explicit children
// list it appears in, and is updated by every structural change.
type Surface struct {
	id         string
	rootID     string
	catalogID  string
	components hashmap.Map
	parents    hashmap.Map
}

func New(id, rootID, catalogID string, components []model.SurfaceComponent) Surface {
	s := Surface{
		id:         id,
		rootID:     rootID,
		catalogID:  catalogID,
		components: emptyMap(),
		parents:    emptyMap(),
	}
	for _, c := range components {
		s = s.WithComponent(c)
	}
	return s
}

func (s Surface) ID() string              { return s.id }
func (s Surface) RootComponentID() string { return s.rootID }
func (s Surface) CatalogID() string       { return s.catalogID }

func (s Surface) Len() int {
	if s.components == nil {
		return 0
	}
	return s.components.Len()
}

func (s Surface) Component(id string) (model.SurfaceComponent, bool) {
	if s.components == nil {
		return model.SurfaceComponent{}, false
	}
	v, ok := s.components.Index(id)
	if !ok {
		return model.SurfaceComponent{}, false
	}
	return v.(model.SurfaceComponent), true
}

// Components returns every component ordered by id.
func (s Surface) Components() []model.SurfaceComponent {
	out := make([]model.SurfaceComponent, 0, s.Len())
	if s.components == nil {
		return out
	}
	for it := s.components.Iterator(); it.HasElem(); it.Next() {
		_, v := it.Elem()
		out = append(out, v.(model.SurfaceComponent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Parents returns the ids of components listing id as an explicit child.
func (s Surface) Parents(id string) []string {
	if s.parents == nil {
		return nil
	}
	v, ok := s.parents.Index(id)
	if !ok {
		return nil
	}
	return append([]string(nil), v.([]string)...)
}

// WithComponent stores c, replacing any component with the same id.
func (s Surface) WithComponent(c model.SurfaceComponent) Surface {
	if s.components == nil {
		s.components = emptyMap()
		s.parents = emptyMap()
	}
	if prev, ok := s.Component(c.ID); ok {
		for _, child := range prev.ExplicitChildren() {
			s.parents = unlink(s.parents, child, c.ID)
		}
	}
	for _, child := range c.ExplicitChildren() {
		s.parents = link(s.parents, child, c.ID)
	}
	s.components = s.components.Assoc(c.ID, c)
	return s
}

// WithoutComponent deletes id and strips it from every explicit children list
// that references it.
func (s Surface) WithoutComponent(id string) Surface {
	prev, ok := s.Component(id)
	if ok {
		for _, child := range prev.ExplicitChildren() {
			s.parents = unlink(s.parents, child, id)
		}
		s.components = s.components.Dissoc(id)
	}
	for _, parentID := range s.Parents(id) {
		parent, ok := s.Component(parentID)
		if !ok {
			continue
		}
		kept := make(model.ExplicitList, 0, len(parent.ExplicitChildren()))
		for _, child := range parent.ExplicitChildren() {
			if child != id {
				kept = append(kept, child)
			}
		}
		parent.Component = parent.Component.WithChildren(kept)
		s = s.WithComponent(parent)
	}
	if s.parents != nil {
		s.parents = s.parents.Dissoc(id)
	}
	return s
}

func link(parents hashmap.Map, child, parent string) hashmap.Map {
	var list []string
	if v, ok := parents.Index(child); ok {
		list = v.([]string)
	}
	for _, p := range list {
		if p == parent {
			return parents
		}
	}
	next := make([]string, 0, len(list)+1)
	next = append(next, list...)
	next = append(next, parent)
	sort.Strings(next)
	return parents.Assoc(child, next)
}

func unlink(parents hashmap.Map, child, parent string) hashmap.Map {
	v, ok := parents.Index(child)
	if !ok {
		return parents
	}
	list := v.([]string)
	next := make([]string, 0, len(list))
	for _, p := range list {
		if p != parent {
			next = append(next, p)
		}
	}
	if len(next) == 0 {
		return parents.Dissoc(child)
	}
	return parents.Assoc(child, next)
}

// View is the JSON form of a surface.
type View struct {
	SurfaceID       string                            `json:"surfaceId"`
	RootComponentID string                            `json:"rootComponentId"`
	CatalogID       string                            `json:"catalogId,omitempty"`
	Components      map[string]model.SurfaceComponent `json:"components"`
}

func (s Surface) View() View {
	v := View{
		SurfaceID:       s.id,
		RootComponentID: s.rootID,
		CatalogID:       s.catalogID,
		Components:      make(map[string]model.SurfaceComponent, s.Len()),
	}
	for _, c := range s.Components() {
		v.Components[c.ID] = c
	}
	return v
}

func (s Surface) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View())
}

// Fingerprint is a hash of the canonical JSON form of the surface. Two
// surfaces with equal content have equal fingerprints.
func (s Surface) Fingerprint() (string, error) {
	raw, err := json.Marshal(s.View())
	if err != nil {
		return "", fmt.Errorf("marshal surface: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize surface: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
