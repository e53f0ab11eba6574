package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/g960059/a2ui/internal/action"
	"github.com/g960059/a2ui/internal/api"
	"github.com/g960059/a2ui/internal/gather"
	"github.com/g960059/a2ui/internal/ingest"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/optimistic"
	"github.com/g960059/a2ui/internal/surface"
	"github.com/g960059/a2ui/internal/widgets"
	"github.com/g960059/a2ui/internal/wire"
)

const maxJournalLimit = 1000

// errorStatus maps engine and codec errors to an HTTP status and API code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, wire.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, model.ErrMessageInvalid
	case errors.Is(err, wire.ErrUnknownType):
		return http.StatusBadRequest, model.ErrMessageUnknownType
	case errors.Is(err, wire.ErrInvalid):
		return http.StatusBadRequest, model.ErrMessageInvalid
	case errors.Is(err, ingest.ErrOutOfOrder):
		return http.StatusConflict, model.ErrOutOfOrder
	case errors.Is(err, ingest.ErrSurfaceNotFound):
		return http.StatusNotFound, model.ErrSurfaceNotFound
	case errors.Is(err, ingest.ErrComponentNotFound):
		return http.StatusNotFound, model.ErrComponentNotFound
	case errors.Is(err, ingest.ErrNotWidgetInstance), errors.Is(err, action.ErrNoAction):
		return http.StatusBadRequest, model.ErrPreconditionFailed
	case errors.Is(err, action.ErrActionNotFound):
		return http.StatusNotFound, model.ErrActionNotFound
	case errors.Is(err, widgets.ErrNotFound):
		return http.StatusNotFound, model.ErrWidgetNotFound
	case errors.Is(err, widgets.ErrInvalidConstraint):
		return http.StatusBadRequest, model.ErrRefInvalid
	}
	return http.StatusInternalServerError, model.ErrInternal
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("[daemon] %v", err)
	}
	s.writeError(w, status, code, err.Error())
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	if s.cfg.MaxMessageBytes <= 0 {
		return io.ReadAll(r.Body)
	}
	// One byte over the limit is enough for the codec to reject it.
	return io.ReadAll(io.LimitReader(r.Body, int64(s.cfg.MaxMessageBytes)+1))
}

func decodeStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrMessageInvalid, "failed to read body")
		return
	}
	frames, err := s.codec.DecodeBatch(body)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	results, err := s.engine.ApplyBatch(r.Context(), frames)
	if err != nil {
		status, code := errorStatus(err)
		s.writeError(w, status, code, fmt.Sprintf("%v (applied %d of %d)", err, len(results), len(frames)))
		return
	}
	resp := api.MessagesResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Results:       make([]api.MessageResult, 0, len(results)),
	}
	for _, res := range results {
		resp.Results = append(resp.Results, messageResult(res))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func messageResult(res ingest.Result) api.MessageResult {
	return api.MessageResult{
		EntryID:   res.EntryID,
		SurfaceID: res.SurfaceID,
		Type:      res.Type,
		Changed:   res.Changed,
		Skipped:   res.Skipped,
	}
}

func (s *Server) surfacesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	list := s.engine.Surfaces()
	resp := api.SurfacesEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Surfaces:      make([]api.SurfaceSummary, 0, len(list)),
	}
	for _, sf := range list {
		sum, err := s.summarize(sf)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		resp.Surfaces = append(resp.Surfaces, sum)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) summarize(sf surface.Surface) (api.SurfaceSummary, error) {
	fp, err := sf.Fingerprint()
	if err != nil {
		return api.SurfaceSummary{}, err
	}
	return api.SurfaceSummary{
		SurfaceID:       sf.ID(),
		RootComponentID: sf.RootComponentID(),
		CatalogID:       sf.CatalogID(),
		Components:      sf.Len(),
		PendingUpdates:  len(s.engine.Pending(sf.ID())),
		Fingerprint:     fp,
	}, nil
}

func (s *Server) surfaceByIDHandler(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.EscapedPath(), "/v1/surfaces/")
	parts := strings.Split(strings.Trim(tail, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, model.ErrSurfaceNotFound, "surface not found")
		return
	}
	surfaceID, err := url.PathUnescape(parts[0])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalidEncoding, "invalid surface id encoding")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getSurface(w, r, surfaceID)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "render":
			if r.Method != http.MethodGet {
				s.methodNotAllowed(w, http.MethodGet)
				return
			}
			s.renderSurface(w, surfaceID)
			return
		case "data":
			if r.Method != http.MethodGet {
				s.methodNotAllowed(w, http.MethodGet)
				return
			}
			s.surfaceData(w, r, surfaceID)
			return
		case "optimistic":
			if r.Method != http.MethodPost {
				s.methodNotAllowed(w, http.MethodPost)
				return
			}
			s.applyOptimistic(w, r, surfaceID)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "surface route not found")
}

func (s *Server) getSurface(w http.ResponseWriter, r *http.Request, surfaceID string) {
	sf, ok := s.engine.Surface(surfaceID)
	if !ok {
		s.writeError(w, http.StatusNotFound, model.ErrSurfaceNotFound, "surface not found")
		return
	}
	sum, err := s.summarize(sf)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	etag := strconv.Quote(sum.Fingerprint)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	rawSurface, err := json.Marshal(sf)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	rawData := json.RawMessage(`{}`)
	if doc, ok := s.engine.Data(surfaceID); ok {
		if rawData, err = json.Marshal(doc); err != nil {
			s.writeEngineError(w, err)
			return
		}
	}
	w.Header().Set("ETag", etag)
	s.writeJSON(w, http.StatusOK, api.SurfaceEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Summary:       sum,
		Surface:       rawSurface,
		Data:          rawData,
		Pending:       pendingItems(s.engine.Pending(surfaceID)),
	})
}

func pendingItems(records []optimistic.Record) []api.PendingItem {
	out := make([]api.PendingItem, 0, len(records))
	for _, rec := range records {
		out = append(out, api.PendingItem{
			SurfaceID:   rec.SurfaceID,
			ComponentID: rec.ComponentID,
			Changes:     rec.Changes,
			Timestamp:   rec.Timestamp.UTC(),
		})
	}
	return out
}

func (s *Server) renderSurface(w http.ResponseWriter, surfaceID string) {
	node, err := s.engine.Render(surfaceID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	tree, err := json.Marshal(node)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RenderEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		SurfaceID:     surfaceID,
		Tree:          tree,
	})
}

func (s *Server) surfaceData(w http.ResponseWriter, r *http.Request, surfaceID string) {
	doc, ok := s.engine.Data(surfaceID)
	if !ok {
		s.writeError(w, http.StatusNotFound, model.ErrSurfaceNotFound, "surface not found")
		return
	}
	path := r.URL.Query().Get("path")
	resp := api.DataEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		SurfaceID:     surfaceID,
		Path:          path,
	}
	if path == "" {
		resp.Defined, resp.Value = true, doc.Plain()
	} else {
		resp.Value, resp.Defined = doc.Get(path)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) applyOptimistic(w http.ResponseWriter, r *http.Request, surfaceID string) {
	var req api.OptimisticRequest
	if err := decodeStrict(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ComponentID) == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "component_id is required")
		return
	}
	if req.RollbackMS < 0 {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "rollback_ms must be >= 0")
		return
	}
	if _, ok := s.engine.Surface(surfaceID); !ok {
		s.writeError(w, http.StatusNotFound, model.ErrSurfaceNotFound, "surface not found")
		return
	}
	applied := s.engine.Optimistic(surfaceID, req.ComponentID, req.Changes, time.Duration(req.RollbackMS)*time.Millisecond)
	s.writeJSON(w, http.StatusOK, api.OptimisticResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Applied:       applied,
		Pending:       pendingItems(s.engine.Pending(surfaceID)),
	})
}

func (s *Server) elementsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.GatherRequest
	if err := decodeStrict(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid json body")
		return
	}
	s.writeJSON(w, http.StatusOK, gatherResponse(s.engine.Gather(req.ElementIDs)))
}

func gatherResponse(res gather.Result) api.GatherResponse {
	out := api.GatherResponse{
		Elements:     make(map[string]api.ElementValue, len(res.Elements)),
		RequestedIDs: res.RequestedIDs,
	}
	if out.RequestedIDs == nil {
		out.RequestedIDs = []string{}
	}
	for id, el := range res.Elements {
		out.Elements[id] = api.ElementValue{Path: el.Path, Value: el.Value, Timestamp: el.Timestamp}
	}
	return out
}

func (s *Server) actionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.ActionRequest
	if err := decodeStrict(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid json body")
		return
	}
	if strings.TrimSpace(req.SurfaceID) == "" || strings.TrimSpace(req.ComponentID) == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "surface_id and component_id are required")
		return
	}
	resp := api.ActionResponse{SchemaVersion: api.SchemaVersion}
	if req.ActionID != "" {
		d, err := s.engine.ExecuteWidgetAction(r.Context(), req.SurfaceID, req.ComponentID, req.ActionID, req.Event)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		resp.Dispatch = dispatchItem(d)
	} else {
		msg, err := s.engine.BuildUserAction(req.SurfaceID, req.ComponentID, req.Event)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		raw, err := json.Marshal(msg)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		resp.UserAction = raw
	}
	resp.GeneratedAt = time.Now().UTC()
	s.writeJSON(w, http.StatusOK, resp)
}

func dispatchItem(d action.Dispatch) *api.DispatchItem {
	return &api.DispatchItem{
		ActionID: d.ActionID,
		Kind:     d.Kind,
		EventID:  d.EventID,
		PageID:   d.PageID,
		URL:      d.URL,
		NewTab:   d.NewTab,
		Command:  d.Command,
		Inputs:   d.Inputs,
	}
}

func (s *Server) journalHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}
	entries, err := s.engine.Journal(r.Context(), q.Get("surface"), limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	resp := api.JournalEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Entries:       make([]api.JournalItem, 0, len(entries)),
	}
	for _, e := range entries {
		item := api.JournalItem{
			EntryID:     e.EntryID,
			SurfaceID:   e.SurfaceID,
			MessageType: e.MessageType,
			Seq:         e.Seq,
			Outcome:     e.Outcome,
			AppliedAt:   e.AppliedAt,
		}
		if e.Payload != "" && json.Valid([]byte(e.Payload)) {
			item.Payload = json.RawMessage(e.Payload)
		}
		resp.Entries = append(resp.Entries, item)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) widgetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listWidgets(w, r)
	case http.MethodPut, http.MethodPost:
		s.putWidget(w, r, "")
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPost)
	}
}

func (s *Server) widgetByIDHandler(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.EscapedPath(), "/v1/widgets/"), "/")
	if tail == "" || strings.Contains(tail, "/") {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "widget route not found")
		return
	}
	widgetID, err := url.PathUnescape(tail)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalidEncoding, "invalid widget id encoding")
		return
	}
	switch r.Method {
	case http.MethodGet:
		def, err := s.widgets.Get(r.Context(), widgetID, r.URL.Query().Get("version"))
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeWidget(w, http.StatusOK, def)
	case http.MethodPut:
		s.putWidget(w, r, widgetID)
	case http.MethodDelete:
		if err := s.widgets.Delete(r.Context(), widgetID); err != nil {
			s.writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (s *Server) listWidgets(w http.ResponseWriter, r *http.Request) {
	list, err := s.widgets.List(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	resp := api.WidgetsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Widgets:       make([]api.WidgetSummary, 0, len(list)),
	}
	for _, sum := range list {
		resp.Widgets = append(resp.Widgets, api.WidgetSummary{
			WidgetID:  sum.WidgetID,
			Name:      sum.Name,
			Versions:  sum.Versions,
			UpdatedAt: sum.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// putWidget stores a widget definition. When the route names an id, the
// definition must carry the same one.
func (s *Server) putWidget(w http.ResponseWriter, r *http.Request, widgetID string) {
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrWidgetInvalid, "failed to read body")
		return
	}
	if widgetID != "" {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &head); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrWidgetInvalid, "invalid json body")
			return
		}
		if head.ID != widgetID {
			s.writeError(w, http.StatusBadRequest, model.ErrWidgetInvalid, "widget id does not match route")
			return
		}
	}
	def, err := s.widgets.Put(r.Context(), body)
	if err != nil {
		if errors.Is(err, wire.ErrInvalid) || errors.Is(err, wire.ErrTooLarge) {
			s.writeError(w, http.StatusBadRequest, model.ErrWidgetInvalid, err.Error())
			return
		}
		s.writeEngineError(w, err)
		return
	}
	s.writeWidget(w, http.StatusOK, def)
}

func (s *Server) writeWidget(w http.ResponseWriter, status int, def model.Widget) {
	raw, err := json.Marshal(def)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, status, api.WidgetEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Widget:        raw,
	})
}
