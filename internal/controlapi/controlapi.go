// Package controlapi exposes the peer engine's control surface (seed,
// leech, status, get_torrents, get_torrent_by_info_hash) over HTTP, the
// thin external layer spec.md describes as mapping core operations onto
// routes — mirroring the original daemon's Quart routes one for one.
package controlapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/prxssh/hutch/internal/engine"
)

// Server wraps an *engine.Engine with the HTTP routes hutchctl talks to.
type Server struct {
	eng           *engine.Engine
	defaultTracker string
	log           *slog.Logger
	router        *mux.Router
}

// New builds a Server. defaultTracker is the tracker base URL used by
// get_torrents/get_torrent_by_info_hash, which address no particular
// already-known torrent.
func New(eng *engine.Engine, defaultTracker string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{eng: eng, defaultTracker: defaultTracker, log: log.With("component", "controlapi")}
	s.router = s.buildRouter()
	return s
}

// Router returns the mux.Router implementing http.Handler.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/seed", s.handleSeed).Methods(http.MethodPost)
	r.HandleFunc("/leech", s.handleLeech).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/torrents", s.handleGetTorrents).Methods(http.MethodGet)
	r.HandleFunc("/torrents/{info_hash}", s.handleGetTorrentByInfoHash).Methods(http.MethodGet)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "latency", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

type seedRequest struct {
	InputPath    string     `json:"input_path"`
	Trackers     [][]string `json:"trackers"`
	Public       bool       `json:"public"`
	PieceLength  int64      `json:"piece_length"`
	MetainfoPath string     `json:"torrent_filepath"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.InputPath == "" {
		writeError(w, http.StatusBadRequest, "input_path is required")
		return
	}
	if len(req.Trackers) == 0 && s.defaultTracker != "" {
		req.Trackers = [][]string{{s.defaultTracker}}
	}

	infoHash, err := s.eng.Seed(r.Context(), engine.SeedParams{
		InputPath:    req.InputPath,
		Trackers:     req.Trackers,
		PieceLength:  req.PieceLength,
		Public:       req.Public,
		Name:         req.Name,
		Description:  req.Description,
		MetainfoPath: req.MetainfoPath,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Seeding started",
		"info_hash": infoHash,
	})
}

type leechRequest struct {
	TorrentFilepath string `json:"torrent_filepath"`
}

func (s *Server) handleLeech(w http.ResponseWriter, r *http.Request) {
	var req leechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.TorrentFilepath == "" {
		writeError(w, http.StatusBadRequest, "torrent_filepath is required")
		return
	}

	if err := s.eng.Leech(req.TorrentFilepath); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Added file to be downloaded successfully"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.StatusSnapshot())
}

func (s *Server) handleGetTorrents(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.eng.GetTorrents(r.Context(), s.defaultTracker)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": catalog})
}

func (s *Server) handleGetTorrentByInfoHash(w http.ResponseWriter, r *http.Request) {
	infoHash := mux.Vars(r)["info_hash"]

	path, err := s.eng.GetTorrentByInfoHash(r.Context(), s.defaultTracker, infoHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": path})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
