package notify

import (
	"context"
	"fmt"
	"time"

	"xwatch/internal/model"
)

const (
	notionBaseURL = "https://api.notion.com/v1"
	notionVersion = "2022-06-28"
)

// Notion creates one page per record in a database with the properties
// Name (title), Author, Text, Query (rich text), URL (url), Likes,
// Reposts, Replies (number), Source (select) and Posted (date).
type Notion struct {
	Token      string
	DatabaseID string
	baseURL    string
	poster
}

func NewNotion(token, databaseID string, timeout time.Duration) *Notion {
	return &Notion{Token: token, DatabaseID: databaseID, baseURL: notionBaseURL, poster: newPoster(timeout)}
}

func (n *Notion) Name() string { return "notion" }

func richText(s string) map[string]any {
	// notion caps a single text object at 2000 chars
	return map[string]any{"rich_text": []any{map[string]any{"text": map[string]any{"content": truncate(s, 2000)}}}}
}

func (n *Notion) Log(ctx context.Context, rec model.Record) error {
	props := map[string]any{
		"Name":    map[string]any{"title": []any{map[string]any{"text": map[string]any{"content": truncate("@"+rec.Author+": "+rec.Text, 100)}}}},
		"Author":  richText(rec.Author),
		"Text":    richText(rec.Text),
		"Query":   richText(rec.Query),
		"Likes":   map[string]any{"number": rec.Engagement.Likes},
		"Reposts": map[string]any{"number": rec.Engagement.Reposts},
		"Replies": map[string]any{"number": rec.Engagement.Replies},
		"Source":  map[string]any{"select": map[string]any{"name": string(rec.Source)}},
		"Posted":  map[string]any{"date": map[string]any{"start": rec.CreatedAt.UTC().Format(time.RFC3339)}},
	}
	if rec.URL != "" {
		props["URL"] = map[string]any{"url": rec.URL}
	}
	payload := map[string]any{
		"parent":     map[string]any{"database_id": n.DatabaseID},
		"properties": props,
	}
	headers := map[string]string{
		"Authorization":  "Bearer " + n.Token,
		"Notion-Version": notionVersion,
	}
	resp, err := n.postJSON(ctx, n.baseURL+"/pages", headers, payload)
	if err != nil {
		return err
	}
	if resp.Status >= 300 {
		return fmt.Errorf("notion status %d: %s", resp.Status, truncate(string(resp.Body), 200))
	}
	return nil
}

var _ Logger = (*Notion)(nil)
