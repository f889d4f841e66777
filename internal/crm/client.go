package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crmbridge/internal/config"
	"crmbridge/internal/models"
)

// ErrNotFound is returned when the CRM reports the remote record is absent.
var ErrNotFound = errors.New("crm record not found")

// Client is an HTTP client for the external CRM API.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
}

// NewClient constructs a client from config with a bounded request timeout.
func NewClient(cfg config.CRMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiExtra:   cfg.APIExtra,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// memberPayload is the wire shape for member create/update calls.
type memberPayload struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// vehiclePayload is the wire shape for vehicle create/update calls.
type vehiclePayload struct {
	ExternalID string `json:"external_id"`
	VIN        string `json:"vin"`
	Plate      string `json:"plate,omitempty"`
	Model      string `json:"model,omitempty"`
	OwnerID    string `json:"owner_id"`
}

type idResponse struct {
	ID string `json:"id"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// IsAlive calls the CRM health endpoint. A non-2xx status or transport
// error means not alive.
func (c *Client) IsAlive(ctx context.Context) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/health", c.baseURL)
	if err := c.doGet(ctx, endpoint, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) CreateMember(ctx context.Context, member *models.Member) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/members", c.baseURL)
	var resp idResponse
	if err := c.doPost(ctx, endpoint, newMemberPayload(member), &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) UpdateMember(ctx context.Context, member *models.Member) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/members/%s", c.baseURL, url.PathEscape(member.CrmID))
	var resp idResponse
	if err := c.doPut(ctx, endpoint, newMemberPayload(member), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return member.CrmID, nil
	}
	return resp.ID, nil
}

// DeleteMember removes the remote member. A 404 surfaces as ErrNotFound so
// callers can treat delete-on-already-absent as success.
func (c *Client) DeleteMember(ctx context.Context, crmID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/members/%s", c.baseURL, url.PathEscape(crmID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, nil)
}

func (c *Client) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/vehicles", c.baseURL)
	var resp idResponse
	if err := c.doPost(ctx, endpoint, newVehiclePayload(vehicle), &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	endpoint := fmt.Sprintf("%s/api/v1/vehicles/%s", c.baseURL, url.PathEscape(vehicle.CrmID))
	return c.doPut(ctx, endpoint, newVehiclePayload(vehicle), nil)
}

// VerifyVehicle asks the CRM to verify the vehicle record.
func (c *Client) VerifyVehicle(ctx context.Context, vehicle *models.Vehicle) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/vehicles/%s/verify", c.baseURL, url.PathEscape(vehicle.CrmID))
	var resp verifyResponse
	if err := c.doPost(ctx, endpoint, nil, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

func newMemberPayload(m *models.Member) memberPayload {
	return memberPayload{
		ExternalID: m.ID,
		Email:      m.Email,
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		Phone:      m.Phone,
	}
}

func newVehiclePayload(v *models.Vehicle) vehiclePayload {
	return vehiclePayload{
		ExternalID: v.ID,
		VIN:        v.VIN,
		Plate:      v.Plate,
		Model:      v.Model,
		OwnerID:    v.OwnerID,
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, out any) error {
	return c.doWithBody(ctx, http.MethodPost, endpoint, body, out)
}

func (c *Client) doPut(ctx context.Context, endpoint string, body any, out any) error {
	return c.doWithBody(ctx, http.MethodPut, endpoint, body, out)
}

func (c *Client) doWithBody(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("crm: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
