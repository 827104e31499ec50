package docstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

func TestListTemplatesPreservesStoreOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metadata_templates/enterprise" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{
			"entries": [
				{
					"id": "raw-id-1",
					"templateKey": "invoice-v2",
					"displayName": "Invoice",
					"fields": [
						{"key": "amount", "displayName": "Amount", "type": "float"},
						{"key": "currency", "displayName": "Currency", "type": "enum",
						 "options": [{"key": "USD"}, {"key": "EUR"}]}
					]
				},
				{"id": "raw-id-2", "displayName": "Generic"}
			]
		}`))
	}))
	defer server.Close()

	client := New(server.URL, "tok", Options{})
	templates, err := client.ListTemplates(context.Background())
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(templates))
	}

	first := templates[0]
	if first.ID != "invoice-v2" || first.Position != 0 {
		t.Fatalf("unexpected first template: %+v", first)
	}
	currency, ok := first.Field("currency")
	if !ok || currency.Type != domain.FieldEnum || len(currency.Options) != 2 {
		t.Fatalf("enum field not decoded: %+v", currency)
	}

	// Entries without a templateKey fall back to the raw id.
	if templates[1].ID != "raw-id-2" || templates[1].Position != 1 {
		t.Fatalf("unexpected second template: %+v", templates[1])
	}
}

func TestCreateMetadataPostsWholeObject(t *testing.T) {
	var method, path string
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(server.URL, "tok", Options{})
	err := client.CreateMetadata(context.Background(), domain.DocumentRef{ID: "42"}, "invoice-v2",
		map[string]string{"amount": "10", "vendor": "Acme"})
	if err != nil {
		t.Fatalf("CreateMetadata() error = %v", err)
	}
	if method != http.MethodPost || path != "/files/42/metadata/enterprise/invoice-v2" {
		t.Fatalf("unexpected request %s %s", method, path)
	}
	if body["vendor"] != "Acme" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCreateMetadataConflictRetriesAsReplaceOps(t *testing.T) {
	var putOps []map[string]any
	var putContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code": "instance_exists"}`))
		case http.MethodPut:
			putContentType = r.Header.Get("Content-Type")
			_ = json.NewDecoder(r.Body).Decode(&putOps)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	client := New(server.URL, "tok", Options{})
	err := client.CreateMetadata(context.Background(), domain.DocumentRef{ID: "42"}, "invoice-v2",
		map[string]string{"amount": "10"})
	if err != nil {
		t.Fatalf("CreateMetadata() error = %v", err)
	}
	if len(putOps) != 1 || putOps[0]["op"] != "replace" || putOps[0]["path"] != "/amount" {
		t.Fatalf("unexpected patch ops %v", putOps)
	}
	if putContentType != "application/json-patch+json" {
		t.Fatalf("unexpected content type %q", putContentType)
	}
}

func TestCreateMetadataNonConflictErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "invalid value for amount"}`))
	}))
	defer server.Close()

	client := New(server.URL, "tok", Options{})
	err := client.CreateMetadata(context.Background(), domain.DocumentRef{ID: "42"}, "invoice-v2",
		map[string]string{"amount": "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsConflict(err) {
		t.Fatalf("400 must not read as conflict: %v", err)
	}
}

func TestUpdateMetadataFieldFallsBackToAdd(t *testing.T) {
	var ops [][]map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]any
		_ = json.NewDecoder(r.Body).Decode(&batch)
		ops = append(ops, batch)
		if len(ops) == 1 {
			// Replace on a missing key fails; the client retries with add.
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL, "tok", Options{})
	err := client.UpdateMetadataField(context.Background(), domain.DocumentRef{ID: "42"}, "", "due_date", "2026-01-15")
	if err != nil {
		t.Fatalf("UpdateMetadataField() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected replace then add, got %d requests", len(ops))
	}
	if ops[0][0]["op"] != "replace" || ops[1][0]["op"] != "add" {
		t.Fatalf("unexpected op sequence %v", ops)
	}
}

func TestMetadataPathUsesGlobalPropertiesWithoutTemplate(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(server.URL, "tok", Options{})
	err := client.CreateMetadata(context.Background(), domain.DocumentRef{ID: "42"}, "",
		map[string]string{"summary": "quarterly totals"})
	if err != nil {
		t.Fatalf("CreateMetadata() error = %v", err)
	}
	if path != "/files/42/metadata/global/properties" {
		t.Fatalf("unexpected path %q", path)
	}
}
