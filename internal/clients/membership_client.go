// internal/clients/membership_client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"libranexus-lending/internal/membership"
	"libranexus-lending/internal/policy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MembershipClient asks the membership service about user capabilities.
type MembershipClient struct {
	baseURL string
	http    *http.Client
}

var _ policy.Directory = (*MembershipClient)(nil)

func NewMembershipClient(baseURL string, httpClient *http.Client) *MembershipClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MembershipClient{baseURL: baseURL, http: httpClient}
}

// HasCapability implements policy.Directory.
func (c *MembershipClient) HasCapability(ctx context.Context, userID, capability string) (bool, error) {
	q := url.Values{"user_id": {userID}, "capability": {capability}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/capabilities?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var answer membership.CapabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return false, err
	}
	return answer.Allowed, nil
}

// Register creates a member. An empty role registers a guest.
func (c *MembershipClient) Register(ctx context.Context, email, name, password, role string) (*membership.Member, error) {
	body := map[string]string{"email": email, "name": name, "password": password, "role": role}
	var m membership.Member
	if err := c.post(ctx, "/members", body, http.StatusCreated, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Login checks credentials and returns the member.
func (c *MembershipClient) Login(ctx context.Context, email, password string) (*membership.Member, error) {
	body := map[string]string{"email": email, "password": password}
	var m membership.Member
	if err := c.post(ctx, "/login", body, http.StatusOK, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *MembershipClient) post(ctx context.Context, path string, body any, want int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var msg bytes.Buffer
		msg.ReadFrom(resp.Body)
		return fmt.Errorf("membership %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg.Bytes()))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
