package notify

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"xwatch/internal/model"
)

const (
	sheetsBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"
	sheetsScope   = "https://www.googleapis.com/auth/spreadsheets"
)

// Sheets appends one row per record through the values:append endpoint.
type Sheets struct {
	SpreadsheetID string
	Range         string
	baseURL       string
	poster
}

// NewSheets authenticates with a service account. credentials is either the
// key JSON itself or a path to it.
func NewSheets(ctx context.Context, credentials, spreadsheetID, rng string, timeout time.Duration) (*Sheets, error) {
	data := []byte(credentials)
	if !strings.HasPrefix(strings.TrimSpace(credentials), "{") {
		b, err := os.ReadFile(credentials)
		if err != nil {
			return nil, fmt.Errorf("sheets: read credentials: %w", err)
		}
		data = b
	}
	conf, err := google.JWTConfigFromJSON(data, sheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse credentials: %w", err)
	}
	p := newPoster(timeout)
	client := conf.Client(ctx)
	client.Timeout = p.client.Timeout
	p.client = client
	if rng == "" {
		rng = "Sheet1!A1"
	}
	return &Sheets{SpreadsheetID: spreadsheetID, Range: rng, baseURL: sheetsBaseURL, poster: p}, nil
}

func (s *Sheets) Name() string { return "sheets" }

// Row is the column layout written for each record.
func Row(rec model.Record) []any {
	return []any{
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.ID,
		rec.Author,
		rec.Text,
		rec.URL,
		rec.Engagement.Likes,
		rec.Engagement.Reposts,
		rec.Engagement.Replies,
		string(rec.Source),
		rec.Query,
	}
}

func (s *Sheets) Log(ctx context.Context, rec model.Record) error {
	u := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		s.baseURL, url.PathEscape(s.SpreadsheetID), url.PathEscape(s.Range))
	payload := map[string]any{"values": [][]any{Row(rec)}}
	resp, err := s.postJSON(ctx, u, nil, payload)
	if err != nil {
		return err
	}
	if resp.Status >= 300 {
		return fmt.Errorf("sheets status %d: %s", resp.Status, truncate(string(resp.Body), 200))
	}
	return nil
}

var _ Logger = (*Sheets)(nil)
