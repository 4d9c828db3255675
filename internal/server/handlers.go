package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/stats"
)

const handlersLogPrefix = "server:handlers"

// handleService is the call endpoint: StartHTTP, admission, BeforeCall,
// size-capped read, dispatch, load headers.
func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	for _, ic := range s.httpInterceptors {
		if !ic.StartHTTP(r) {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if d := s.gate.Admit(); d != stats.Admit {
		s.metrics.skip(d)
		s.writeLoadHeaders(w, r, s.stats.CurTask())
		code := http.StatusServiceUnavailable
		if d == stats.RejectUnavailable {
			code = http.StatusNotImplemented
		}
		slog.Debug(fmt.Sprintf("%s - rejected %s: %s", handlersLogPrefix, r.RemoteAddr, d.StatusInfo()))
		writeStatus(w, code, d.StatusInfo())
		return
	}

	start := time.Now()
	status := protocol.StatusError
	defer func() {
		s.stats.FinishTask(time.Since(start).Milliseconds())
		s.metrics.observe(start, status)
	}()
	// The current request is already counted in CurTask.
	s.writeLoadHeaders(w, r, s.stats.CurTask()-1)

	var body []byte
	for _, ic := range s.httpInterceptors {
		cont, text := ic.BeforeCall(r)
		if !cont {
			status = protocol.StatusOK
			writeText(w, text)
			return
		}
		if text != "" {
			body = []byte(text)
		}
	}

	if body == nil {
		var err error
		body, err = s.readBody(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeStatus(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("post data exceeds %d bytes", s.cfg.MaxPostBytes))
				return
			}
			slog.Warn(fmt.Sprintf("%s - failed to read body from %s: %v", handlersLogPrefix, r.RemoteAddr, err))
			writeStatus(w, http.StatusBadRequest, "failed to read request body")
			return
		}
	}

	resp := s.disp.Dispatch(r.Context(), body)
	if resp == nil {
		status = protocol.StatusOK
		w.WriteHeader(http.StatusOK)
		return
	}
	status = resp.Status
	data, err := resp.Encode()
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", handlersLogPrefix, err))
		writeStatus(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.cfg.MaxPostBytes
	if r.ContentLength > limit {
		return nil, &http.MaxBytesError{Limit: limit}
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}

// writeLoadHeaders reports the node load and bumps an inbound hop counter.
func (s *Server) writeLoadHeaders(w http.ResponseWriter, r *http.Request, taskNum int64) {
	if taskNum < 0 {
		taskNum = 0
	}
	h := w.Header()
	h.Set(protocol.HeaderServiceAvailable, strconv.FormatBool(s.gate.Available()))
	h.Set(protocol.HeaderServiceCPU, strconv.Itoa(s.cfg.CPU))
	h.Set(protocol.HeaderServiceTaskNum, strconv.FormatInt(taskNum, 10))
	h.Set(protocol.HeaderServiceMaxQueue, strconv.Itoa(s.gate.MaxQueue()))
	if hop := r.Header.Get(protocol.HeaderServiceHop); hop != "" {
		if n, err := strconv.Atoi(hop); err == nil {
			h.Set(protocol.HeaderServiceHop, strconv.Itoa(n+1))
		}
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot().Info())
}

type healthOutput struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Available bool     `json:"available"`
	CurTask   int64    `json:"cur_task"`
	Pools     []string `json:"pools"`
	Timestamp string   `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := healthOutput{
		Status:    "healthy",
		Service:   s.cfg.ServiceName,
		Version:   s.cfg.Version,
		Available: s.gate.Available(),
		CurTask:   s.stats.CurTask(),
		Pools:     s.balancer.Names(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if s.draining.Load() {
		h.Status = "draining"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.write(w)
}

// handleFallback answers every path no other route claims.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodPost:
		writeText(w, fmt.Sprintf("query %s is OK", r.URL.RequestURI()))
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeStatus sends a bare status envelope with status -1.
func writeStatus(w http.ResponseWriter, code int, info string) {
	writeJSON(w, code, &protocol.Response{Status: protocol.StatusError, StatusInfo: info})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode %T: %v", handlersLogPrefix, v, err))
	}
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}
