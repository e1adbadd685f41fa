package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/relay/internal/runtime"
	"github.com/rzbill/relay/internal/statusupdate"
	"github.com/rzbill/relay/internal/taskstatus"
)

// Server exposes the daemon API: submitting updates, acknowledging them,
// pausing/resuming forwarding, recovery, and stream inspection.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/updates", s.handleUpdate)
	mux.HandleFunc("/v1/acks", s.handleAck)
	mux.HandleFunc("/v1/pause", s.handlePause)
	mux.HandleFunc("/v1/resume", s.handleResume)
	mux.HandleFunc("/v1/recover", s.handleRecover)
	mux.HandleFunc("/v1/streams", s.handleStreams)
	mux.HandleFunc("/v1/cleanup", s.handleCleanup)
	mux.HandleFunc("/v1/archive/streams", s.handleArchiveList)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Addr returns the bound listen address, once serving.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// updateRequest submits one status update on a stream. A zero UUID is
// assigned server-side so producers may omit it.
type updateRequest struct {
	StreamID   string                `json:"streamId"`
	Checkpoint bool                  `json:"checkpoint"`
	Update     taskstatus.TaskStatus `json:"update"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.StreamID == "" {
		writeError(w, http.StatusBadRequest, "streamId is required")
		return
	}
	if !req.Update.State.Valid() {
		writeError(w, http.StatusBadRequest, "unknown task state")
		return
	}
	if req.Update.UUID == uuid.Nil {
		req.Update.UUID = uuid.New()
	}
	if req.Update.TimestampMs == 0 {
		req.Update.TimestampMs = time.Now().UnixMilli()
	}
	if err := s.rt.Update(r.Context(), &req.Update, req.StreamID, req.Checkpoint); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"uuid": req.Update.UUID})
}

type ackRequest struct {
	StreamID string    `json:"streamId"`
	UUID     uuid.UUID `json:"uuid"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.StreamID == "" || req.UUID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "streamId and uuid are required")
		return
	}
	alive, err := s.rt.Acknowledge(r.Context(), req.StreamID, req.UUID)
	if err != nil {
		switch {
		case errors.Is(err, statusupdate.ErrUnknownStream):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, statusupdate.ErrDuplicateAck):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, map[string]any{"alive": alive})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.rt.Manager().Pause(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.rt.Manager().Resume(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "resumed"})
}

type recoverRequest struct {
	StreamIDs []string `json:"streamIds"`
	Strict    bool     `json:"strict"`
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	state, err := s.rt.Manager().Recover(r.Context(), req.StreamIDs, req.Strict)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"errors": state.Errors}
	streams := make(map[string]any, len(state.Streams))
	for id, st := range state.Streams {
		if st == nil {
			streams[id] = nil
			continue
		}
		streams[id] = map[string]any{
			"updates":    st.Updates,
			"terminated": st.Terminated,
		}
	}
	resp["streams"] = streams
	writeJSON(w, resp)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	infos, err := s.rt.Manager().Streams(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"streams": infos})
}

type cleanupRequest struct {
	FrameworkID string `json:"frameworkId"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FrameworkID == "" {
		writeError(w, http.StatusBadRequest, "frameworkId is required")
		return
	}
	if err := s.rt.Manager().Cleanup(r.Context(), req.FrameworkID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "cleaned"})
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	arc := s.rt.Archive()
	if arc == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	metas, err := arc.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"streams": metas})
}
