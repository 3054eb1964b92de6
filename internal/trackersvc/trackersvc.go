// Package trackersvc implements the tracker HTTP service: torrent catalog,
// swarm membership, and raw metainfo retrieval.
package trackersvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var (
	// ErrBadRequest covers wrong file extension and missing required
	// query parameters.
	ErrBadRequest = errors.New("trackersvc: bad request")

	// ErrNotFound covers an info_hash absent from the catalog or whose
	// stored file has disappeared.
	ErrNotFound = errors.New("trackersvc: not found")
)

const announceInterval = 1800 // seconds

// Service is the tracker's HTTP surface: four endpoints over one in-memory
// Store, snapshotted to disk periodically.
type Service struct {
	store     *Store
	torrentDir string
	log       *slog.Logger
	router    *mux.Router
}

// New builds a Service whose uploaded .torrent files are written under
// torrentDir and whose catalog/swarm snapshots live under stateDir.
func New(stateDir, torrentDir string, log *slog.Logger) (*Service, error) {
	store, err := NewStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("trackersvc: %w", err)
	}
	if err := os.MkdirAll(torrentDir, 0o755); err != nil {
		return nil, fmt.Errorf("trackersvc: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		store:      store,
		torrentDir: torrentDir,
		log:        log.With("component", "trackersvc"),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Router returns the mux.Router implementing http.Handler, ready to be
// served directly or mounted under another router.
func (s *Service) Router() *mux.Router { return s.router }

// SnapshotLoop periodically snapshots the store to disk until stop is
// closed. Run as a background goroutine by the owning binary.
func (s *Service) SnapshotLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.store.Snapshot(); err != nil {
				s.log.Error("snapshot failed", "error", err)
			}
		}
	}
}

func (s *Service) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/announce", s.handleAnnounceGet).Methods(http.MethodGet)
	r.HandleFunc("/announce", s.handleAnnouncePost).Methods(http.MethodPost)
	r.HandleFunc("/torrents", s.handleListTorrents).Methods(http.MethodGet)
	r.HandleFunc("/torrents/{info_hash}", s.handleGetTorrent).Methods(http.MethodGet)

	return r
}

func (s *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"latency", time.Since(start),
			"info_hash", r.URL.Query().Get("info_hash"),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "Tracker is running."})
}

// handleAnnounceGet implements GET /announce: register/update/remove a peer
// (per the event parameter) and return the current swarm.
func (s *Service) handleAnnounceGet(w http.ResponseWriter, r *http.Request) {
	infoHash := r.URL.Query().Get("info_hash")
	portStr := r.URL.Query().Get("port")
	if infoHash == "" || portStr == "" {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "info_hash and port are required")
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "invalid port")
		return
	}

	sourceIP := sourceIP(r)
	event := r.URL.Query().Get("event")
	explicitIP := r.URL.Query().Get("ip")

	s.applyAnnounceEvent(infoHash, PeerEntry{IP: sourceIP, Port: uint16(port)}, event)
	if explicitIP != "" {
		s.applyAnnounceEvent(infoHash, PeerEntry{IP: explicitIP, Port: uint16(port)}, event)
	}

	peers := s.store.Peers(infoHash)
	if err := s.store.Snapshot(); err != nil {
		s.log.Error("snapshot after announce failed", "error", err)
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"interval": announceInterval,
		"peers":    peers,
	})
}

// applyAnnounceEvent mutates the swarm per the "started"/"stopped"/absent
// event semantics; absent is a keep-alive query with no mutation.
func (s *Service) applyAnnounceEvent(infoHash string, peer PeerEntry, event string) {
	switch event {
	case "started":
		s.store.UpsertPeer(infoHash, peer)
	case "stopped":
		s.store.RemovePeer(infoHash, peer)
	}
}

// handleAnnouncePost implements POST /announce: upload a new torrent, then
// redirect to GET /announce so the single swarm-insertion path runs.
func (s *Service) handleAnnouncePost(w http.ResponseWriter, r *http.Request) {
	infoHash := r.URL.Query().Get("info_hash")
	portStr := r.URL.Query().Get("port")
	if infoHash == "" || portStr == "" {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "info_hash and port are required")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "malformed multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(header.Filename, ".torrent") {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "file must have a .torrent extension")
		return
	}

	if rec, ok := s.store.GetTorrent(infoHash); !ok || !fileExists(rec.StoredPath) {
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrBadRequest, "failed to read upload")
			return
		}

		storedPath := filepath.Join(s.torrentDir, uuid.NewString()+".torrent")
		if err := os.WriteFile(storedPath, data, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, err, "failed to store torrent")
			return
		}

		name := r.FormValue("name")
		if name == "" {
			name = header.Filename
		}

		s.store.PutTorrent(infoHash, TorrentRecord{
			StoredPath:  storedPath,
			Name:        name,
			Description: r.FormValue("description"),
		})
		if err := s.store.Snapshot(); err != nil {
			s.log.Error("snapshot after upload failed", "error", err)
		}
	}

	redirectURL := fmt.Sprintf("/announce?info_hash=%s&port=%s&event=started", infoHash, portStr)
	if ip := r.URL.Query().Get("ip"); ip != "" {
		redirectURL += "&ip=" + ip
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Service) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, s.store.AllTorrents())
}

func (s *Service) handleGetTorrent(w http.ResponseWriter, r *http.Request) {
	infoHash := mux.Vars(r)["info_hash"]

	rec, ok := s.store.GetTorrent(infoHash)
	if !ok || !fileExists(rec.StoredPath) {
		writeError(w, http.StatusNotFound, ErrNotFound, fmt.Sprintf("%s not found", infoHash))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, rec.Name))
	http.ServeFile(w, r, rec.StoredPath)
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, details string) {
	writeJSONResponse(w, status, map[string]string{
		"error":   err.Error(),
		"details": details,
	})
}
