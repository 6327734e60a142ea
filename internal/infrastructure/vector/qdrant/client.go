package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// pointNamespace derives stable point ids from journal entry ids, so a
// re-admitted entry overwrites its previous vector.
var pointNamespace = uuid.MustParse("6f1d3c52-2a4e-4f0b-9d7e-1c8b5a9e0f31")

// Client is the embedding index backed by one qdrant collection.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func pointID(entryID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(entryID)).String()
}

func (c *Client) Upsert(ctx context.Context, entryID string, vector []float32) error {
	if entryID == "" || len(vector) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", errors.New("entry id and vector are required"))
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"points": []map[string]any{
			{
				"id":     pointID(entryID),
				"vector": vector,
				"payload": map[string]any{
					"entry_id": entryID,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "qdrant upsert request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError("qdrant upsert", resp)
	}
	return nil
}

// Nearest returns the closest admitted entries by cosine score, never
// including excludeID.
func (c *Client) Nearest(ctx context.Context, vector []float32, limit int, excludeID string) ([]domain.VectorMatch, error) {
	if limit <= 0 {
		limit = 1
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if excludeID != "" {
		reqBody["filter"] = map[string]any{
			"must_not": []map[string]any{
				{
					"key": "entry_id",
					"match": map[string]any{
						"value": excludeID,
					},
				},
			},
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "qdrant search request", err)
	}
	defer resp.Body.Close()

	// An index that has never seen a vector has no collection yet.
	if resp.StatusCode == http.StatusNotFound {
		return []domain.VectorMatch{}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, statusError("qdrant search", resp)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.VectorMatch, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, "entry_id")
		if id == "" || id == excludeID {
			continue
		}
		out = append(out, domain.VectorMatch{EntryID: id, Score: r.Score})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "qdrant ensure collection request", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError("qdrant ensure collection", resp)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func statusError(op string, resp *http.Response) error {
	var err error
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		err = fmt.Errorf("status %s: %s", resp.Status, msg)
	} else {
		err = fmt.Errorf("status %s", resp.Status)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return domain.WrapError(domain.ErrInvalidInput, op, err)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
