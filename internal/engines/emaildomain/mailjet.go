package emaildomain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"credhub/internal/common/errors"
	"credhub/internal/common/httpclient"
	"credhub/internal/credentials"
)

const (
	// ProviderMailjet is the provider name persisted in record config
	ProviderMailjet = "mailjet"

	defaultMailjetBaseURL = "https://api.mailjet.com"
)

// MailjetBackend verifies sending domains through the Mailjet REST API
type MailjetBackend struct {
	apiKey     string
	secretKey  string
	httpClient *http.Client
	baseURL    string
}

// NewMailjetBackend creates a Mailjet backend
func NewMailjetBackend(apiKey, secretKey string, httpClient *http.Client) *MailjetBackend {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultClient()
	}
	return &MailjetBackend{
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: httpClient,
		baseURL:    defaultMailjetBaseURL,
	}
}

func (m *MailjetBackend) Name() string { return ProviderMailjet }

// CreateDomain registers a wildcard sender for the domain. Mailjet
// answers 400 when the sender already exists; that is treated as
// success so re-adding a domain is idempotent.
func (m *MailjetBackend) CreateDomain(ctx context.Context, domain string) (map[string]string, error) {
	payload, err := json.Marshal(map[string]string{
		"Email": "*@" + domain,
	})
	if err != nil {
		return nil, errors.InternalError("failed to encode sender request", err)
	}

	body, status, err := m.do(ctx, http.MethodPost, "/v3/REST/sender", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK && status != http.StatusBadRequest {
		return nil, errors.ConnectionError(
			fmt.Sprintf("mailjet sender creation returned status %d", status), nil).
			WithContext("body", string(body))
	}

	// Mailjet's verification secrets are DNS-side; nothing to store
	return nil, nil
}

// Verify reads the domain's DNS record requirements and validation state
func (m *MailjetBackend) Verify(ctx context.Context, rec *credentials.Record) (*VerificationResult, error) {
	domain := rec.Config[credentials.ConfigDomain]

	// Ask mailjet to re-check DNS before reading state
	checkPath := fmt.Sprintf("/v3/REST/dns/%s/check", domain)
	if _, _, err := m.do(ctx, http.MethodPost, checkPath, nil); err != nil {
		return nil, err
	}

	body, status, err := m.do(ctx, http.MethodGet, "/v3/REST/dns/"+domain, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.ConnectionError(
			fmt.Sprintf("mailjet dns lookup returned status %d", status), nil)
	}

	var payload struct {
		Data []struct {
			DKIMRecordName        string `json:"DKIMRecordName"`
			DKIMRecordValue       string `json:"DKIMRecordValue"`
			DKIMStatus            string `json:"DKIMStatus"`
			SPFRecordValue        string `json:"SPFRecordValue"`
			SPFStatus             string `json:"SPFStatus"`
			OwnerShipTokenRecordName string `json:"OwnerShipTokenRecordName"`
			OwnerShipToken        string `json:"OwnerShipToken"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.ConnectionError("failed to decode mailjet dns response", err)
	}
	if len(payload.Data) == 0 {
		return nil, errors.NotFoundError("mailjet domain")
	}

	dns := payload.Data[0]
	result := &VerificationResult{
		Status: StatusPending,
		DNSRecords: []DNSRecord{
			{Type: "TXT", Name: dns.DKIMRecordName, Value: dns.DKIMRecordValue, Status: dns.DKIMStatus},
			{Type: "TXT", Name: domain, Value: dns.SPFRecordValue, Status: dns.SPFStatus},
		},
	}
	if dns.OwnerShipToken != "" {
		result.DNSRecords = append(result.DNSRecords, DNSRecord{
			Type: "TXT", Name: dns.OwnerShipTokenRecordName, Value: dns.OwnerShipToken,
		})
	}

	if dns.DKIMStatus == "OK" && dns.SPFStatus == "OK" {
		result.Status = StatusVerified
	}
	return result, nil
}

func (m *MailjetBackend) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return nil, 0, errors.InternalError("failed to create mailjet request", err)
	}
	req.SetBasicAuth(m.apiKey, m.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.ConnectionError("mailjet request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.ConnectionError("failed to read mailjet response", err)
	}
	return body, resp.StatusCode, nil
}
