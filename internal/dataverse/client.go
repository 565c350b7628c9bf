package dataverse

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dataverse-reports/dataverse-reports/internal/telemetry"
)

const apiVersion = "v1"

// statusOK is the value of the status member on successful native API responses.
const statusOK = "OK"

// Client talks to one Dataverse installation. All native API calls carry the
// X-Dataverse-key header; SWORD calls authenticate with the same token via
// HTTP basic auth, as the SWORD v2 profile requires.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client for the installation at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// envelope is the generic wrapper of native API responses.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// TestConnection probes the unauthenticated version endpoint. A non-200
// response or transport error means the installation is unreachable and the
// whole run must be aborted before any traversal starts.
func (c *Client) TestConnection(ctx context.Context) error {
	versionURL := fmt.Sprintf("%s/api/info/version", c.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create version request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach Dataverse API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("version endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// GetDataverse retrieves one dataverse by id or alias. It returns (nil, nil)
// when the response has no usable data member so the caller can skip the node
// and keep walking siblings.
func (c *Client) GetDataverse(ctx context.Context, identifier string) (*Node, error) {
	if identifier == "" {
		return nil, fmt.Errorf("dataverse identifier is required")
	}

	data, err := c.getData(ctx, fmt.Sprintf("/api/%s/dataverses/%s", apiVersion, url.PathEscape(identifier)))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to decode dataverse %s: %w", identifier, err)
	}
	return &node, nil
}

// GetDataverseContents lists the immediate child objects of a dataverse.
func (c *Client) GetDataverseContents(ctx context.Context, identifier string) ([]DVObject, error) {
	if identifier == "" {
		return nil, fmt.Errorf("dataverse identifier is required")
	}

	data, err := c.getData(ctx, fmt.Sprintf("/api/%s/dataverses/%s/contents", apiVersion, url.PathEscape(identifier)))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var contents []DVObject
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to decode contents of dataverse %s: %w", identifier, err)
	}
	return contents, nil
}

// GetDataset retrieves one dataset by database id. The payload is returned
// raw because the report pipeline lifts latestVersion keys generically rather
// than through a fixed struct. (nil, nil) when the data member is absent.
func (c *Client) GetDataset(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.getData(ctx, fmt.Sprintf("/api/%s/datasets/%d", apiVersion, id))
}

// GetStorageSizeMessage returns the free-text message of the storagesize
// endpoint for a dataverse, e.g. "Total size of the files stored in this
// dataverse: 5,242,880 bytes". Empty string when the message is absent.
func (c *Client) GetStorageSizeMessage(ctx context.Context, identifier string) (string, error) {
	data, err := c.getData(ctx, fmt.Sprintf("/api/%s/dataverses/%s/storagesize?includeCached=true", apiVersion, url.PathEscape(identifier)))
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", nil
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("failed to decode storagesize response for %s: %w", identifier, err)
	}
	return payload.Message, nil
}

// swordFeed is the subset of the SWORD collection Atom feed the reports need:
// the single namespaced boolean element recording the release state.
type swordFeed struct {
	XMLName  xml.Name `xml:"http://www.w3.org/2005/Atom feed"`
	Released *string  `xml:"http://purl.org/net/sword/terms/state dataverseHasBeenReleased"`
}

// GetReleaseState consults the SWORD API for a dataverse's publication state.
// The returned pointer is nil when the element is absent from the document;
// otherwise it points to true only if the element text is exactly "true".
func (c *Client) GetReleaseState(ctx context.Context, alias string) (*bool, error) {
	stateURL := fmt.Sprintf("%s/dvn/api/data-deposit/v1.1/swordv2/collection/dataverse/%s", c.BaseURL, url.PathEscape(alias))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SWORD request: %w", err)
	}
	req.SetBasicAuth(c.Token, "")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		telemetry.APIRequestsTotal.WithLabelValues("sword", "error").Inc()
		return nil, fmt.Errorf("SWORD request for %s failed: %w", alias, err)
	}
	defer resp.Body.Close()
	telemetry.APIRequestsTotal.WithLabelValues("sword", fmt.Sprint(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("SWORD request for %s returned status %d: %s", alias, resp.StatusCode, string(body))
	}

	var feed swordFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode SWORD statement for %s: %w", alias, err)
	}
	if feed.Released == nil {
		return nil, nil
	}
	released := *feed.Released == "true"
	return &released, nil
}

// GetDatasetMetric fetches one Make Data Count value for a dataset. month is
// the optional yyyy-MM scope; empty means all-time. The second return value
// is false when the endpoint answered with a non-OK status or the metric key
// is missing from the data member — callers substitute zero in that case.
func (c *Client) GetDatasetMetric(ctx context.Context, id int64, metric, persistentID, month string) (int64, bool, error) {
	path := fmt.Sprintf("/api/%s/datasets/%d/makeDataCount/%s", apiVersion, id, url.PathEscape(metric))
	if month != "" {
		path += "/" + url.PathEscape(month)
	}
	path += "?persistentId=" + url.QueryEscape(persistentID)

	env, err := c.get(ctx, path)
	if err != nil {
		return 0, false, err
	}
	if env.Status != statusOK || env.Data == nil {
		return 0, false, nil
	}

	var values map[string]json.Number
	if err := json.Unmarshal(env.Data, &values); err != nil {
		return 0, false, fmt.Errorf("failed to decode metric %s response: %w", metric, err)
	}
	raw, ok := values[metric]
	if !ok {
		return 0, false, nil
	}
	value, err := raw.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("metric %s is not an integer: %w", metric, err)
	}
	return value, true, nil
}

// ListUsers retrieves one page of the admin user listing. Pages are 1-based;
// callers iterate until the reported page count is reached.
func (c *Client) ListUsers(ctx context.Context, page int) (*UserPage, error) {
	env, err := c.get(ctx, fmt.Sprintf("/api/%s/admin/list-users?page=%d", apiVersion, page))
	if err != nil {
		return nil, err
	}
	if env.Status != statusOK || env.Data == nil {
		return nil, fmt.Errorf("list-users page %d returned status %q", page, env.Status)
	}

	var payload struct {
		UserCount  int    `json:"userCount"`
		Users      []User `json:"users"`
		Pagination struct {
			PageCount int `json:"pageCount"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode list-users page %d: %w", page, err)
	}
	return &UserPage{
		Users:     payload.Users,
		UserCount: payload.UserCount,
		PageCount: payload.Pagination.PageCount,
	}, nil
}

// get performs one native API GET and decodes the response envelope.
func (c *Client) get(ctx context.Context, path string) (*envelope, error) {
	endpoint := metricEndpoint(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	if c.Token != "" {
		req.Header.Set("X-Dataverse-key", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		telemetry.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("request for %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	telemetry.APIRequestsTotal.WithLabelValues(endpoint, fmt.Sprint(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response for %s (status %d): %w", path, resp.StatusCode, err)
	}
	return &env, nil
}

// getData performs one native API GET and returns the raw data member, or
// (nil, nil) when the envelope carries none. The nil/nil contract lets the
// walker treat an unusable node as missing data rather than a hard failure.
func (c *Client) getData(ctx context.Context, path string) (json.RawMessage, error) {
	env, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	return env.Data, nil
}

// metricEndpoint reduces an API path to a low-cardinality label for the
// request counter: the first path segment after the version prefix.
func metricEndpoint(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/"+apiVersion+"/")
	if i := strings.IndexAny(trimmed, "/?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
