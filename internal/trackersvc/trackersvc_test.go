package trackersvc

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(t.TempDir(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func multipartUpload(t *testing.T, fieldName, filename string, content []byte, extra map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range extra {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}

	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestAnnouncePost_UploadsThenRegistersPeer(t *testing.T) {
	svc := newTestService(t)

	body, contentType := multipartUpload(t, "file", "test.torrent", []byte("fake torrent bytes"),
		map[string]string{"name": "my-torrent", "description": "a test torrent"})

	req := httptest.NewRequest(http.MethodPost, "/announce?info_hash=deadbeef&port=6881", body)
	req.Header.Set("Content-Type", contentType)
	req.RemoteAddr = "192.0.2.1:54321"

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("POST /announce status = %d, want %d, body=%s", rec.Code, http.StatusFound, rec.Body.String())
	}

	// The catalog should now list the torrent, redacting stored_path.
	catReq := httptest.NewRequest(http.MethodGet, "/torrents", nil)
	catRec := httptest.NewRecorder()
	svc.Router().ServeHTTP(catRec, catReq)

	var catalog map[string]CatalogEntry
	if err := json.Unmarshal(catRec.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	entry, ok := catalog["deadbeef"]
	if !ok || entry.Name != "my-torrent" {
		t.Fatalf("catalog = %+v, want deadbeef -> my-torrent", catalog)
	}

	// Follow the redirect to GET /announce as an HTTP client would; the
	// swarm should then contain the uploading peer (event=started).
	getReq := httptest.NewRequest(http.MethodGet, rec.Header().Get("Location"), nil)
	getReq.RemoteAddr = "192.0.2.1:54321"
	svc.Router().ServeHTTP(httptest.NewRecorder(), getReq)

	swarm := svc.store.Peers("deadbeef")
	found := false
	for _, p := range swarm {
		if p.IP == "192.0.2.1" && p.Port == 6881 {
			found = true
		}
	}
	if !found {
		t.Fatalf("swarm = %v, want an entry for 192.0.2.1:6881", swarm)
	}
}

func TestAnnounceGet_StoppedEventRemovesPeer(t *testing.T) {
	svc := newTestService(t)
	svc.store.UpsertPeer("deadbeef", PeerEntry{IP: "192.0.2.1", Port: 6881})

	req := httptest.NewRequest(http.MethodGet, "/announce?info_hash=deadbeef&port=6881&event=stopped", nil)
	req.RemoteAddr = "192.0.2.1:9999"
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /announce status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if peers := svc.store.Peers("deadbeef"); len(peers) != 0 {
		t.Fatalf("Peers() after stopped event = %v, want empty", peers)
	}
}

func TestGetTorrent_NotFoundForUnknownHash(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/torrents/unknownhash", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /torrents/unknownhash status = %d, want 404", rec.Code)
	}
}

func TestAnnouncePost_RejectsNonTorrentExtension(t *testing.T) {
	svc := newTestService(t)

	body, contentType := multipartUpload(t, "file", "test.zip", []byte("not a torrent"), nil)
	req := httptest.NewRequest(http.MethodPost, "/announce?info_hash=deadbeef&port=6881", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a non-.torrent upload", rec.Code)
	}
}
