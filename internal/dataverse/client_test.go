package dataverse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-token", 5*time.Second)
}

// ---------------------------------------------------------------------------
// TestConnection
// ---------------------------------------------------------------------------

func TestTestConnection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/info/version" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"status":"OK","data":{"version":"6.1"}}`)
	}))

	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestTestConnectionFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	if err := client.TestConnection(context.Background()); err == nil {
		t.Fatal("TestConnection against a failing server: expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetDataverse
// ---------------------------------------------------------------------------

func TestGetDataverse(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Dataverse-key"); got != "test-token" {
			t.Errorf("X-Dataverse-key = %q, want test-token", got)
		}
		if r.URL.Path != "/api/v1/dataverses/root" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"status":"OK","data":{
			"id": 1,
			"alias": "root",
			"name": "Root Dataverse",
			"dataverseType": "UNCATEGORIZED",
			"dataverseContacts": [{"displayOrder": 0, "contactEmail": "admin@example.edu"}]
		}}`)
	}))

	node, err := client.GetDataverse(context.Background(), "root")
	if err != nil {
		t.Fatalf("GetDataverse: %v", err)
	}
	if node == nil {
		t.Fatal("GetDataverse returned nil node")
	}
	if node.ID != 1 || node.Alias != "root" || node.Name != "Root Dataverse" {
		t.Errorf("node = %+v", node)
	}
	if len(node.Contacts) != 1 || node.Contacts[0].ContactEmail != "admin@example.edu" {
		t.Errorf("contacts = %+v", node.Contacts)
	}
}

func TestGetDataverseMissingData(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":"ERROR","message":"Can't find dataverse"}`)
	}))

	node, err := client.GetDataverse(context.Background(), "nothere")
	if err != nil {
		t.Fatalf("GetDataverse: %v", err)
	}
	if node != nil {
		t.Fatalf("node = %+v, want nil for a dataverse without data", node)
	}
}

func TestGetDataverseEmptyIdentifier(t *testing.T) {
	client := NewClient("http://localhost", "", time.Second)
	if _, err := client.GetDataverse(context.Background(), ""); err == nil {
		t.Fatal("GetDataverse with empty identifier: expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetDataverseContents
// ---------------------------------------------------------------------------

func TestGetDataverseContents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"OK","data":[
			{"type": "dataverse", "id": 10, "title": "Child"},
			{"type": "dataset", "id": 100, "identifier": "FK2/ABCDEF", "protocol": "doi", "authority": "10.5072"}
		]}`)
	}))

	contents, err := client.GetDataverseContents(context.Background(), "root")
	if err != nil {
		t.Fatalf("GetDataverseContents: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("got %d objects, want 2", len(contents))
	}
	if contents[0].Type != "dataverse" || contents[0].ID != 10 {
		t.Errorf("contents[0] = %+v", contents[0])
	}
	if got := contents[1].PersistentID(); got != "doi:10.5072/FK2/ABCDEF" {
		t.Errorf("PersistentID() = %q, want doi:10.5072/FK2/ABCDEF", got)
	}
}

// ---------------------------------------------------------------------------
// GetStorageSizeMessage
// ---------------------------------------------------------------------------

func TestGetStorageSizeMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("includeCached"); got != "true" {
			t.Errorf("includeCached = %q, want true", got)
		}
		fmt.Fprint(w, `{"status":"OK","data":{"message":"Total size of the files stored in this dataverse: 5,242,880 bytes"}}`)
	}))

	message, err := client.GetStorageSizeMessage(context.Background(), "root")
	if err != nil {
		t.Fatalf("GetStorageSizeMessage: %v", err)
	}
	if message != "Total size of the files stored in this dataverse: 5,242,880 bytes" {
		t.Errorf("message = %q", message)
	}
}

// ---------------------------------------------------------------------------
// GetReleaseState
// ---------------------------------------------------------------------------

func TestGetReleaseState(t *testing.T) {
	const feed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:dataverse="http://purl.org/net/sword/terms/state">
  <title type="text">Root Dataverse</title>
  <dataverse:dataverseHasBeenReleased>%s</dataverse:dataverseHasBeenReleased>
</feed>`

	tests := []struct {
		name string
		body string
		want *bool
	}{
		{"released", fmt.Sprintf(feed, "true"), func() *bool { b := true; return &b }()},
		{"unreleased", fmt.Sprintf(feed, "false"), func() *bool { b := false; return &b }()},
		{
			name: "element absent",
			body: `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title type="text">Root</title></feed>`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/dvn/api/data-deposit/v1.1/swordv2/collection/dataverse/root" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				user, _, ok := r.BasicAuth()
				if !ok || user != "test-token" {
					t.Errorf("basic auth user = %q, want the API token", user)
				}
				w.Header().Set("Content-Type", "application/atom+xml")
				fmt.Fprint(w, tt.body)
			}))

			released, err := client.GetReleaseState(context.Background(), "root")
			if err != nil {
				t.Fatalf("GetReleaseState: %v", err)
			}
			switch {
			case tt.want == nil && released != nil:
				t.Errorf("released = %v, want nil", *released)
			case tt.want != nil && released == nil:
				t.Errorf("released = nil, want %v", *tt.want)
			case tt.want != nil && *released != *tt.want:
				t.Errorf("released = %v, want %v", *released, *tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GetDatasetMetric
// ---------------------------------------------------------------------------

func TestGetDatasetMetric(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/datasets/100/makeDataCount/viewsMonth/2024-02" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("persistentId"); got != "doi:10.5072/FK2/ABCDEF" {
			t.Errorf("persistentId = %q", got)
		}
		fmt.Fprint(w, `{"status":"OK","data":{"viewsMonth":12}}`)
	}))

	value, found, err := client.GetDatasetMetric(context.Background(), 100, "viewsMonth", "doi:10.5072/FK2/ABCDEF", "2024-02")
	if err != nil {
		t.Fatalf("GetDatasetMetric: %v", err)
	}
	if !found || value != 12 {
		t.Errorf("GetDatasetMetric = (%d, %v), want (12, true)", value, found)
	}
}

func TestGetDatasetMetricUnavailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"ERROR","message":"metrics not configured"}`)
	}))

	_, found, err := client.GetDatasetMetric(context.Background(), 100, "viewsTotal", "doi:10.5072/FK2/ABCDEF", "")
	if err != nil {
		t.Fatalf("GetDatasetMetric: %v", err)
	}
	if found {
		t.Error("found = true, want false for a non-OK response")
	}
}

// ---------------------------------------------------------------------------
// ListUsers
// ---------------------------------------------------------------------------

func TestListUsers(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		fmt.Fprint(w, `{"status":"OK","data":{
			"userCount": 3,
			"pagination": {"pageCount": 2},
			"users": [{"id": 3, "userIdentifier": "owl", "email": "owl@example.edu", "superuser": false}]
		}}`)
	}))

	page, err := client.ListUsers(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if page.UserCount != 3 || page.PageCount != 2 || len(page.Users) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Users[0].UserIdentifier != "owl" {
		t.Errorf("user = %+v", page.Users[0])
	}
}

// ---------------------------------------------------------------------------
// metricEndpoint
// ---------------------------------------------------------------------------

func TestMetricEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/dataverses/root", "dataverses"},
		{"/api/v1/dataverses/root/contents", "dataverses"},
		{"/api/v1/datasets/100", "datasets"},
		{"/api/v1/admin/list-users?page=1", "admin"},
		{"/api/v1/info", "info"},
	}
	for _, tt := range tests {
		if got := metricEndpoint(tt.path); got != tt.want {
			t.Errorf("metricEndpoint(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
