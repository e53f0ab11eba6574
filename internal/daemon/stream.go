package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/a2ui/internal/api"
	"github.com/g960059/a2ui/internal/ingest"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/wire"
)

const (
	StreamKindHello       = "hello"
	StreamKindAck         = "ack"
	StreamKindClientError = "client_error"
	StreamKindElements    = "elements"
)

var errStreamClosed = errors.New("stream closed by peer")

// The socket is owner-only, so any origin that reaches it is local.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamHandler upgrades to a websocket session. Inbound text frames are
// server messages applied in arrival order, each answered with an ack or a
// client_error frame. Engine events are pushed to the peer as they happen.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		glog.Infof("[daemon] stream upgrade: %v", err)
		return
	}
	s.streamWG.Add(1)
	defer s.streamWG.Done()

	sess := &streamSession{
		id:   uuid.NewString(),
		srv:  s,
		conn: conn,
		out:  make(chan api.StreamFrame, max(s.cfg.SideChannelBuffer, 1)),
	}
	glog.V(1).Infof("[daemon] stream %s opened", sess.id)
	err = sess.run()
	conn.Close() //nolint:errcheck
	if err != nil && !errors.Is(err, errStreamClosed) && !errors.Is(err, context.Canceled) {
		glog.Infof("[daemon] stream %s ended: %v", sess.id, err)
		return
	}
	glog.V(1).Infof("[daemon] stream %s closed", sess.id)
}

type streamSession struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	// out carries frames produced by the read pump; only the write pump
	// touches the connection for writing.
	out chan api.StreamFrame
}

func (ss *streamSession) run() error {
	events, cancel := ss.srv.engine.Subscribe()
	defer cancel()

	g, ctx := errgroup.WithContext(ss.srv.baseCtx)
	g.Go(func() error { return ss.readPump(ctx) })
	g.Go(func() error { return ss.writePump(ctx, events) })
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks ReadMessage.
		ss.conn.Close() //nolint:errcheck
		return nil
	})
	return g.Wait()
}

func (ss *streamSession) readPump(ctx context.Context) error {
	cfg := ss.srv.cfg
	if cfg.MaxMessageBytes > 0 {
		ss.conn.SetReadLimit(int64(cfg.MaxMessageBytes))
	}
	ss.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)) //nolint:errcheck
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})
	for {
		typ, data, err := ss.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errStreamClosed
			}
			return err
		}
		ss.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)) //nolint:errcheck
		if typ != websocket.TextMessage {
			continue
		}
		frame := ss.apply(ctx, data)
		select {
		case ss.out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (ss *streamSession) apply(ctx context.Context, data []byte) api.StreamFrame {
	f, err := ss.srv.codec.Decode(data)
	if err != nil {
		return clientErrorFrame("", err)
	}
	res, err := ss.srv.engine.Apply(ctx, f)
	if err != nil {
		return clientErrorFrame(f.Message.Surface(), err)
	}
	result := messageResult(res)
	return api.StreamFrame{
		Kind:      StreamKindAck,
		SurfaceID: res.SurfaceID,
		EntryID:   res.EntryID,
		Seq:       f.Seq,
		Result:    &result,
	}
}

func clientErrorFrame(surfaceID string, err error) api.StreamFrame {
	_, code := errorStatus(err)
	frame := api.StreamFrame{
		Kind:      StreamKindClientError,
		SurfaceID: surfaceID,
		Error:     &api.APIError{Code: code, Message: err.Error()},
	}
	if raw, mErr := json.Marshal(model.ClientError{SurfaceID: surfaceID, Message: err.Error(), Code: code}); mErr == nil {
		frame.Message = raw
	}
	return frame
}

func (ss *streamSession) writePump(ctx context.Context, events <-chan ingest.Event) error {
	cfg := ss.srv.cfg
	interval := cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	if err := ss.write(api.StreamHello{Kind: StreamKindHello, SessionID: ss.id}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			ss.conn.WriteControl(websocket.CloseMessage, msg, deadline) //nolint:errcheck
			return ctx.Err()
		case frame := <-ss.out:
			if err := ss.write(frame); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return errStreamClosed
			}
			for _, frame := range ss.srv.eventFrames(ev) {
				if err := ss.write(frame); err != nil {
					return err
				}
			}
		case <-ping.C:
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				return err
			}
		}
	}
}

func (ss *streamSession) write(v any) error {
	ss.conn.SetWriteDeadline(time.Now().Add(ss.srv.cfg.WriteTimeout)) //nolint:errcheck
	return ss.conn.WriteJSON(v)
}

// eventFrames renders one engine event for the peer. A requestElements
// side-channel command is followed by the gathered element values.
func (s *Server) eventFrames(ev ingest.Event) []api.StreamFrame {
	frame := api.StreamFrame{
		Kind:        ev.Kind,
		SurfaceID:   ev.SurfaceID,
		ComponentID: ev.ComponentID,
		EntryID:     ev.EntryID,
		Seq:         ev.Seq,
	}
	if ev.Message != nil {
		raw, err := wire.Encode(wire.Frame{Seq: ev.Seq, Message: ev.Message})
		if err != nil {
			glog.Errorf("[daemon] encode %s event: %v", ev.Kind, err)
		} else {
			frame.Message = raw
		}
	}
	if ev.Dispatch != nil {
		frame.Dispatch = dispatchItem(*ev.Dispatch)
	}
	if ev.UserAction != nil {
		if raw, err := json.Marshal(ev.UserAction); err == nil {
			frame.UserAction = raw
		}
	}
	frames := []api.StreamFrame{frame}

	req, ok := ev.Message.(model.RequestElements)
	if !ok {
		return frames
	}
	raw, err := json.Marshal(gatherResponse(s.engine.Gather(req.ElementIDs)))
	if err != nil {
		glog.Errorf("[daemon] encode gathered elements: %v", err)
		return frames
	}
	return append(frames, api.StreamFrame{
		Kind:      StreamKindElements,
		SurfaceID: ev.SurfaceID,
		EntryID:   ev.EntryID,
		Message:   raw,
	})
}
