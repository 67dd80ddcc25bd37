package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
)

// Config holds the plate-reader API parameters.
type Config struct {
	URL     string
	Token   string
	Regions []string
	Timeout time.Duration
}

// Client uploads a snapshot to the plate-reader API and turns the first
// result into a RecognitionEvent. The decision core never retries or
// re-queries recognition; whatever comes back here is the event.
type Client struct {
	cfg   Config
	httpc *http.Client
	clock clock.Clock
	log   zerolog.Logger
}

func NewClient(cfg Config, clk clock.Clock, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: timeout},
		clock: clk,
		log:   log,
	}
}

type readerResult struct {
	Plate string  `json:"plate"`
	Score float64 `json:"score"`
}

type readerResponse struct {
	Results []readerResult `json:"results"`
}

// Recognize uploads the image and returns the recognition event. An
// empty result set yields an event with empty plate text, which the
// engine maps to a denial rather than an error.
func (c *Client) Recognize(ctx context.Context, imagePath string) (gate.RecognitionEvent, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, region := range c.cfg.Regions {
		if err := mw.WriteField("regions", region); err != nil {
			return gate.RecognitionEvent{}, fmt.Errorf("building upload: %w", err)
		}
	}
	part, err := mw.CreateFormFile("upload", filepath.Base(imagePath))
	if err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("reading image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &body)
	if err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Token "+c.cfg.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("plate reader request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("reading plate reader response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gate.RecognitionEvent{}, fmt.Errorf("plate reader returned %d: %s", resp.StatusCode, raw)
	}

	var parsed readerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return gate.RecognitionEvent{}, fmt.Errorf("decoding plate reader response: %w", err)
	}

	ev := gate.RecognitionEvent{
		CapturedAt: c.clock.Now(),
		ImageRef:   imagePath,
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err == nil {
		ev.RawPayload = payload
	}
	if len(parsed.Results) > 0 {
		ev.RawPlate = parsed.Results[0].Plate
		ev.Confidence = parsed.Results[0].Score
		c.log.Info().
			Str("plate", ev.RawPlate).
			Float64("confidence", ev.Confidence).
			Msg("plate recognized")
	} else {
		c.log.Info().Str("image", imagePath).Msg("no plate found in image")
	}
	return ev, nil
}
