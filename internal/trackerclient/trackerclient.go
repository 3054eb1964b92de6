// Package trackerclient implements the peer-side announce client: the HTTP
// calls a seeder or leecher makes to the tracker service to register,
// de-register, upload a new torrent, or simply refresh its swarm view.
package trackerclient

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prxssh/hutch/pkg/retry"
)

// Event mirrors the tracker's announce "event" query parameter.
type Event string

const (
	EventNone    Event = ""
	EventStarted Event = "started"
	EventStopped Event = "stopped"
)

// Peer is one swarm member as returned by the tracker.
type Peer struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// AnnounceResponse is the tracker's JSON response to GET /announce.
type AnnounceResponse struct {
	Interval int64  `json:"interval"`
	Peers    []Peer `json:"peers"`
}

// AnnounceParams addresses a single announce call.
type AnnounceParams struct {
	InfoHash [sha1.Size]byte
	Port     uint16
	IP       string // optional explicit advertise address
	Event    Event
}

// Client announces to a single tracker base URL over HTTP, with JSON
// responses (not bencode — this tracker speaks a simpler wire format than
// BEP-0003's, per the tracker service's own design).
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *slog.Logger
}

// New builds a tracker client for baseURL (the torrent's announce URL).
func New(baseURL string, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: invalid tracker url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.With("component", "trackerclient"),
	}, nil
}

// Announce performs a single GET /announce, retrying transient failures
// with exponential backoff.
func (c *Client) Announce(ctx context.Context, p AnnounceParams) (*AnnounceResponse, error) {
	var out *AnnounceResponse

	err := retry.Do(ctx, func(ctx context.Context) error {
		resp, err := c.doAnnounce(ctx, p)
		if err != nil {
			c.log.Warn("announce failed, will retry", "error", err)
			return err
		}
		out = resp
		return nil
	}, retry.WithExponentialBackoff(3, 200*time.Millisecond, 2*time.Second)...)

	if err != nil {
		return nil, fmt.Errorf("trackerclient: announce: %w", err)
	}
	return out, nil
}

func (c *Client) doAnnounce(ctx context.Context, p AnnounceParams) (*AnnounceResponse, error) {
	u := *c.baseURL
	u.Path = "/announce"

	q := u.Query()
	q.Set("info_hash", hex.EncodeToString(p.InfoHash[:]))
	q.Set("port", strconv.Itoa(int(p.Port)))
	if p.IP != "" {
		q.Set("ip", p.IP)
	}
	if p.Event != EventNone {
		q.Set("event", string(p.Event))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tracker returned status %d: %s", resp.StatusCode, body)
	}

	var out AnnounceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode announce response: %w", err)
	}
	return &out, nil
}

// Upload performs POST /announce with a multipart body carrying the
// metainfo file, registering the torrent and this peer as its first
// seeder in a single call.
func (c *Client) Upload(
	ctx context.Context,
	p AnnounceParams,
	filename string,
	torrentBytes []byte,
	description string,
) (*AnnounceResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(torrentBytes); err != nil {
		return nil, err
	}
	if err := w.WriteField("name", filename); err != nil {
		return nil, err
	}
	if err := w.WriteField("description", description); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	u := *c.baseURL
	u.Path = "/announce"
	q := u.Query()
	q.Set("info_hash", hex.EncodeToString(p.InfoHash[:]))
	q.Set("port", strconv.Itoa(int(p.Port)))
	if p.IP != "" {
		q.Set("ip", p.IP)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("trackerclient: upload returned status %d: %s", resp.StatusCode, body)
	}

	var out AnnounceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("trackerclient: decode upload response: %w", err)
	}
	return &out, nil
}

// Catalog is the response shape of GET /torrents: info_hash (hex) to entry.
type Catalog map[string]CatalogEntry

// CatalogEntry is one torrent's public catalog metadata.
type CatalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GetTorrents fetches the tracker's public catalog.
func (c *Client) GetTorrents(ctx context.Context) (Catalog, error) {
	u := *c.baseURL
	u.Path = "/torrents"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trackerclient: get torrents returned status %d", resp.StatusCode)
	}

	var out Catalog
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("trackerclient: decode catalog: %w", err)
	}
	return out, nil
}

// GetTorrentFile fetches the raw metainfo bytes for infoHash.
func (c *Client) GetTorrentFile(ctx context.Context, infoHash [sha1.Size]byte) ([]byte, error) {
	u := *c.baseURL
	u.Path = "/torrents/" + hex.EncodeToString(infoHash[:])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trackerclient: get torrent file returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
