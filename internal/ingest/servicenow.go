package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bugbusters/bugbuster/internal/config"
	"github.com/bugbusters/bugbuster/internal/defect"
)

const incidentLimit = 100

// ServiceNowClient reads incidents from the ServiceNow table API.
type ServiceNowClient struct {
	baseURL    string
	user       string
	password   string
	caller     string
	httpClient *http.Client
}

func NewServiceNowClient(baseURL string, cfg config.ServiceNowConfig) *ServiceNowClient {
	return &ServiceNowClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		user:       cfg.User,
		password:   cfg.Password,
		caller:     cfg.Caller,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchIncidents returns up to 100 raw incidents opened by the configured
// caller.
func (c *ServiceNowClient) FetchIncidents(ctx context.Context) ([]map[string]any, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("servicenow url is not configured")
	}
	q := url.Values{}
	q.Set("sysparm_query", "caller_id.user_name="+c.caller)
	q.Set("sysparm_limit", fmt.Sprint(incidentLimit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/now/table/incident?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching incidents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("servicenow status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Result []map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding incidents: %w", err)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("unexpected response format from servicenow")
	}
	return out.Result, nil
}

// TransformIncident maps a raw table-API incident to the stored incident
// document shape. HTML in the description is reduced to text.
func TransformIncident(raw map[string]any, serviceNowURL string) map[string]any {
	return map[string]any{
		"incident_id":       str(raw["number"]),
		"short_description": str(raw["short_description"]),
		"description":       StripHTML(str(raw["description"])),
		"state":             str(raw["state"]),
		"assigned_to":       displayValue(raw["assigned_to"]),
		"opened_by":         displayValue(raw["opened_by"]),
		"created_on":        str(raw["sys_created_on"]),
		"sys_id":            str(raw["sys_id"]),
		"url":               defect.IncidentURL(serviceNowURL, str(raw["sys_id"])),
	}
}

// IncidentRecord converts a raw incident straight to a record.
func IncidentRecord(raw map[string]any, serviceNowURL string) defect.Record {
	return defect.FromIncident(TransformIncident(raw, serviceNowURL), serviceNowURL)
}

func displayValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		return str(m["display_value"])
	}
	return str(v)
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
