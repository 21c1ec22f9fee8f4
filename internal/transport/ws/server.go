package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/aplbridge/internal/binding"
)

// Bridge is the binding surface the server drives.
type Bridge interface {
	Render(ctx context.Context, req binding.RenderRequest) string
	Clear()
	ExecuteCommands(payload []byte, token string)
	InterruptCommandSequence()
	DataSourceUpdate(sourceType, payload, token string)
	OnMessage(raw []byte)
	HandleBack(ctx context.Context) (bool, error)
}

var _ Bridge = (*binding.Binding)(nil)

// Server exposes a Host and a Bridge over HTTP.
type Server struct {
	host     *Host
	bridge   Bridge
	upgrader websocket.Upgrader

	// loadCtx outlives individual requests: a render keeps loading after
	// its POST returns.
	loadCtx context.Context
}

// NewServer creates a server. loads bounds every background document load.
func NewServer(loads context.Context, host *Host, bridge Bridge) *Server {
	return &Server{
		host:    host,
		bridge:  bridge,
		loadCtx: loads,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler routes:
//
//	GET  /viewhost    websocket for the view host
//	POST /render      {"token","document","data","parameters","supportedViewports"}
//	POST /clear
//	POST /commands    {"token","commands":[...]}
//	POST /interrupt
//	POST /back
//	POST /datasource  {"type","token","payload"}
//	GET  /events?since=N
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /viewhost", s.handleViewhost)
	mux.HandleFunc("POST /render", s.handleRender)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("POST /commands", s.handleCommands)
	mux.HandleFunc("POST /interrupt", s.handleInterrupt)
	mux.HandleFunc("POST /back", s.handleBack)
	mux.HandleFunc("POST /datasource", s.handleDataSource)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

func (s *Server) handleViewhost(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("view host upgrade failed", "error", err)
		return
	}
	v := s.host.attach(conn)
	defer s.host.detach(v)
	slog.Info("view host attached", "remote", r.RemoteAddr)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("view host read failed", "error", err)
			}
			slog.Info("view host detached", "remote", r.RemoteAddr)
			return
		}
		if kind != websocket.TextMessage {
			slog.Debug("ignoring binary frame from view host")
			continue
		}
		s.bridge.OnMessage(data)
	}
}

type renderRequest struct {
	Token              string          `json:"token"`
	Document           json.RawMessage `json:"document"`
	Data               json.RawMessage `json:"data"`
	Parameters         map[string]any  `json:"parameters"`
	SupportedViewports json.RawMessage `json:"supportedViewports"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Document) == 0 {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}
	params := make(map[string]string, len(req.Parameters))
	for name, v := range req.Parameters {
		raw, err := json.Marshal(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "parameter "+name+": "+err.Error())
			return
		}
		params[name] = string(raw)
	}
	token := s.bridge.Render(s.loadCtx, binding.RenderRequest{
		Token:              req.Token,
		Document:           unquote(req.Document),
		Data:               unquote(req.Data),
		Parameters:         params,
		SupportedViewports: req.SupportedViewports,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"token": token})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.bridge.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string          `json:"token"`
		Commands json.RawMessage `json:"commands"`
	}
	if !decode(w, r, &req) {
		return
	}
	payload, err := json.Marshal(map[string]json.RawMessage{"commands": req.Commands})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.bridge.ExecuteCommands(payload, req.Token)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	s.bridge.InterruptCommandSequence()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	ok, err := s.bridge.HandleBack(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"handled": ok})
}

func (s *Server) handleDataSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string          `json:"type"`
		Token   string          `json:"token"`
		Payload json.RawMessage `json:"payload"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	s.bridge.DataSourceUpdate(req.Type, unquote(req.Payload), req.Token)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an integer")
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, s.host.Events(since))
}

// unquote accepts a document or payload either inline as JSON or as a JSON
// string holding the JSON text.
func unquote(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
