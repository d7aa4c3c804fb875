package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
)

const (
	NHLBaseURL = "https://api-web.nhle.com/v1"
	UserAgent  = "hockeygamebot/1.0 (github.com/pfrederiksen/hockeygamebot)"
	Timeout    = 15 * time.Second

	maxDocumentSize = 16 << 20
)

// NHL fetches snapshots from the NHL gamecenter play-by-play endpoint.
type NHL struct {
	client  *http.Client
	baseURL string
	metrics *logger.Metrics
}

// NewNHL creates a client. An empty baseURL uses NHLBaseURL.
func NewNHL(baseURL string) *NHL {
	if baseURL == "" {
		baseURL = NHLBaseURL
	}
	return &NHL{
		client: &http.Client{
			Timeout: Timeout,
		},
		baseURL: baseURL,
		metrics: logger.DefaultMetrics(),
	}
}

// Fetch implements Client.
func (n *NHL) Fetch(ctx context.Context, gameID string) (*game.Snapshot, error) {
	start := time.Now()
	defer func() { n.metrics.RecordTiming("feed.fetch", time.Since(start)) }()

	snap, err := n.fetch(ctx, gameID)
	if err != nil {
		n.metrics.IncrCounter("feed.errors")
		return nil, err
	}
	return snap, nil
}

func (n *NHL) fetch(ctx context.Context, gameID string) (*game.Snapshot, error) {
	url := fmt.Sprintf("%s/gamecenter/%s/play-by-play", n.baseURL, gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{GameID: gameID, Kind: Permanent, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &FetchError{GameID: gameID, Kind: Transient, Err: fmt.Errorf("fetching play-by-play: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return nil, &FetchError{GameID: gameID, Kind: Permanent, StatusCode: resp.StatusCode, Err: errors.New("game not found")}
	default:
		return nil, &FetchError{GameID: gameID, Kind: Transient, StatusCode: resp.StatusCode, Err: errors.New("unexpected status code")}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, &FetchError{GameID: gameID, Kind: Transient, Err: fmt.Errorf("reading response: %w", err)}
	}

	snap, err := ParsePlayByPlay(data, time.Now().UTC())
	if err != nil {
		return nil, &FetchError{GameID: gameID, Kind: Transient, Err: err}
	}
	return snap, nil
}
