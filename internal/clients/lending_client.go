// internal/clients/lending_client.go
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/circulation"
	"libranexus-lending/internal/command"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/policy"
)

// APIError is a failed lending request as reported by the server.
type APIError struct {
	Status  int
	Kind    string
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.Status, e.Message)
}

// Unwrap lets callers match catalog.ErrAssetNotFound and
// catalog.ErrAssetExists with errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Kind == circulation.KindAssetNotFound || (e.Kind == "" && e.Status == http.StatusNotFound):
		return catalog.ErrAssetNotFound
	case e.Kind == circulation.KindAssetExists || (e.Kind == "" && e.Status == http.StatusConflict):
		return catalog.ErrAssetExists
	}
	return nil
}

// LendingClient talks to the circulation service.
type LendingClient struct {
	baseURL string
	http    *http.Client
}

func NewLendingClient(baseURL string, httpClient *http.Client) *LendingClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LendingClient{baseURL: baseURL, http: httpClient}
}

func (c *LendingClient) AddAsset(ctx context.Context, asset *catalog.Asset) (*catalog.Asset, error) {
	var out catalog.Asset
	if err := c.do(ctx, http.MethodPost, "/assets", asset, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *LendingClient) GetAsset(ctx context.Context, id string) (*catalog.Asset, error) {
	var out catalog.Asset
	if err := c.do(ctx, http.MethodGet, "/assets/"+url.PathEscape(id), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *LendingClient) ListAssets(ctx context.Context, state lifecycle.State) ([]*catalog.Asset, error) {
	path := "/assets"
	if state != "" {
		path += "?" + url.Values{"state": {string(state)}}.Encode()
	}
	var out []*catalog.Asset
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) Borrow(ctx context.Context, assetID, userID string, mode policy.Mode) (time.Time, error) {
	var out struct {
		DueDate time.Time `json:"due_date"`
	}
	req := circulation.BorrowRequest{UserID: userID, Mode: string(mode)}
	if err := c.do(ctx, http.MethodPost, "/assets/"+url.PathEscape(assetID)+"/borrow", req, http.StatusOK, &out); err != nil {
		return time.Time{}, err
	}
	return out.DueDate, nil
}

func (c *LendingClient) Return(ctx context.Context, assetID, userID string) (float64, error) {
	var out struct {
		LateFee float64 `json:"late_fee"`
	}
	req := circulation.ReturnRequest{UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/assets/"+url.PathEscape(assetID)+"/return", req, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.LateFee, nil
}

func (c *LendingClient) FlagForRestoration(ctx context.Context, assetID string, report circulation.ConditionReportInput) error {
	return c.do(ctx, http.MethodPost, "/assets/"+url.PathEscape(assetID)+"/restoration", report, http.StatusAccepted, nil)
}

func (c *LendingClient) Restore(ctx context.Context, assetID string) (*catalog.Asset, error) {
	var out catalog.Asset
	if err := c.do(ctx, http.MethodPost, "/assets/"+url.PathEscape(assetID)+"/restore", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Undo returns command.ErrNoHistory when the server has nothing to undo.
func (c *LendingClient) Undo(ctx context.Context) (command.Entry, error) {
	var out command.Entry
	err := c.do(ctx, http.MethodPost, "/undo", nil, http.StatusOK, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNoContent {
		return command.Entry{}, command.ErrNoHistory
	}
	return out, err
}

func (c *LendingClient) RestorationQueue(ctx context.Context) ([]circulation.QueueEntry, error) {
	var out []circulation.QueueEntry
	if err := c.do(ctx, http.MethodGet, "/restoration-queue", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) Overdue(ctx context.Context) ([]circulation.OverdueLoan, error) {
	var out []circulation.OverdueLoan
	if err := c.do(ctx, http.MethodGet, "/overdue", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) History(ctx context.Context) ([]command.Entry, error) {
	var out []command.Entry
	if err := c.do(ctx, http.MethodGet, "/history", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
	var body circulation.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Kind != "" {
		apiErr.Kind, apiErr.Reason, apiErr.Message = body.Kind, body.Reason, body.Error
	}
	return apiErr
}
