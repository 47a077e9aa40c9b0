package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authia/internal/license"
	"authia/internal/store"
)

type recordingNotifier struct {
	sent []string
}

func (r *recordingNotifier) SendExpiryReminder(_ context.Context, to, _, _, _ string) error {
	r.sent = append(r.sent, to)
	return nil
}

type domainFixture struct {
	router   chi.Router
	service  *license.Service
	notifier *recordingNotifier
}

func newDomainFixture(t *testing.T) *domainFixture {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := &recordingNotifier{}
	svc := license.NewService(db, notifier, slog.Default())
	svc.SetClock(testClock())

	handler := NewDomainHandler(svc, slog.Default())
	r := chi.NewRouter()
	r.Mount("/admin/domains", handler.Routes())

	return &domainFixture{router: r, service: svc, notifier: notifier}
}

func (f *domainFixture) do(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestDomainCreate(t *testing.T) {
	f := newDomainFixture(t)

	w := f.do(t, http.MethodPost, "/admin/domains/", map[string]interface{}{
		"domain":       "example.com",
		"client_name":  "Acme Corp",
		"email":        "ops@example.com",
		"license_type": "monthly",
		"active":       true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Success bool           `json:"success"`
		Data    DomainResponse `json:"data"`
		APIKey  string         `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.True(t, body.Success)
	assert.Equal(t, "example.com", body.Data.Domain)
	require.NotNil(t, body.Data.ExpiryDate)
	assert.Equal(t, "2025-07-15", *body.Data.ExpiryDate)
	assert.Regexp(t, `^bm-[0-9a-f]{28}$`, body.APIKey)
}

func TestDomainCreateInvalidInput(t *testing.T) {
	f := newDomainFixture(t)

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"bad domain", map[string]interface{}{"domain": "not_a_domain", "license_type": "monthly"}},
		{"bad license type", map[string]interface{}{"domain": "example.com", "license_type": "weekly"}},
		{"bad email", map[string]interface{}{"domain": "example.com", "license_type": "monthly", "email": "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/admin/domains/", tt.payload)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestDomainUpdateGuardVsFlagAsymmetry(t *testing.T) {
	f := newDomainFixture(t)

	// Create an active, in-term record
	rec, _, err := f.service.Create(context.Background(), license.CreateInput{
		Domain: "example.com", Type: license.TypeYearly, Active: true,
	})
	require.NoError(t, err)

	// The guarded edit path rejects flagging it
	w := f.do(t, http.MethodPut, "/admin/domains/1", map[string]interface{}{
		"domain":           "example.com",
		"license_type":     "yearly",
		"expiry_date":      "2026-06-15",
		"active":           true,
		"pending_deletion": true,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// The direct flag action accepts the very same record
	w = f.do(t, http.MethodPost, "/admin/domains/1/flag-delete", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	stored, err := f.service.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.PendingDeletion)
}

func TestDomainRestoreAndPermanentDelete(t *testing.T) {
	f := newDomainFixture(t)

	_, _, err := f.service.Create(context.Background(), license.CreateInput{
		Domain: "example.com", Type: license.TypeMonthly, Active: false,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/admin/domains/1/flag-delete", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/admin/domains/1/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := f.service.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, stored.PendingDeletion)

	w = f.do(t, http.MethodDelete, "/admin/domains/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/admin/domains/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDomainRenew(t *testing.T) {
	f := newDomainFixture(t)

	_, _, err := f.service.Create(context.Background(), license.CreateInput{
		Domain: "example.com", Type: license.TypeMonthly, Active: true,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/admin/domains/1/renew", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2025-07-15")
}

func TestDomainRenewLifetime(t *testing.T) {
	f := newDomainFixture(t)

	_, _, err := f.service.Create(context.Background(), license.CreateInput{
		Domain: "example.com", Type: license.TypeLifetime, Active: true,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/admin/domains/1/renew", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDomainRegenerateKey(t *testing.T) {
	f := newDomainFixture(t)

	_, oldKey, err := f.service.Create(context.Background(), license.CreateInput{
		Domain: "example.com", Type: license.TypeMonthly, Active: true,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/admin/domains/1/regenerate-key", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Regexp(t, `^bm-[0-9a-f]{28}$`, body.APIKey)
	assert.NotEqual(t, oldKey, body.APIKey)
}

func TestDomainSendReminder(t *testing.T) {
	f := newDomainFixture(t)
	ctx := context.Background()

	_, _, err := f.service.Create(ctx, license.CreateInput{
		Domain: "example.com", Type: license.TypeMonthly, Active: true,
		Email: "client@example.com",
	})
	require.NoError(t, err)
	_, _, err = f.service.Create(ctx, license.CreateInput{
		Domain: "noemail.example.com", Type: license.TypeMonthly, Active: true,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/admin/domains/1/send-reminder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"client@example.com"}, f.notifier.sent)

	w = f.do(t, http.MethodPost, "/admin/domains/2/send-reminder", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDomainListings(t *testing.T) {
	f := newDomainFixture(t)
	ctx := context.Background()

	_, _, err := f.service.Create(ctx, license.CreateInput{
		Domain: "alive.example.com", ClientName: "Alpha", Type: license.TypeMonthly, Active: true,
	})
	require.NoError(t, err)
	lapsed, _, err := f.service.Create(ctx, license.CreateInput{
		Domain: "lapsed.example.com", ClientName: "Beta", Type: license.TypeMonthly, Active: true,
	})
	require.NoError(t, err)
	past, err := license.ParseDate("2025-05-01")
	require.NoError(t, err)
	require.NoError(t, f.service.Update(ctx, license.UpdateInput{
		ID: lapsed.ID, Domain: "lapsed.example.com", ClientName: "Beta",
		Type: license.TypeMonthly, ExpiryDate: past, Active: true,
	}))

	w := f.do(t, http.MethodGet, "/admin/domains/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listBody struct {
		Data []DomainResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listBody))
	assert.Len(t, listBody.Data, 2)

	w = f.do(t, http.MethodGet, "/admin/domains/?search=Alpha", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listBody))
	require.Len(t, listBody.Data, 1)
	assert.Equal(t, "alive.example.com", listBody.Data[0].Domain)

	w = f.do(t, http.MethodGet, "/admin/domains/expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listBody))
	require.Len(t, listBody.Data, 1)
	assert.Equal(t, "lapsed.example.com", listBody.Data[0].Domain)
	assert.Equal(t, "expired_flagged_active", listBody.Data[0].Status)
}

func TestDomainStats(t *testing.T) {
	f := newDomainFixture(t)
	ctx := context.Background()

	_, _, err := f.service.Create(ctx, license.CreateInput{
		Domain: "a.example.com", Type: license.TypeMonthly, Active: true,
	})
	require.NoError(t, err)
	_, _, err = f.service.Create(ctx, license.CreateInput{
		Domain: "b.example.com", Type: license.TypeLifetime, Active: false,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/admin/domains/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data["total"])
	assert.Equal(t, 1, body.Data["active"])
	assert.Equal(t, 1, body.Data["inactive"])
}

func TestDomainInvalidID(t *testing.T) {
	f := newDomainFixture(t)

	w := f.do(t, http.MethodGet, "/admin/domains/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/admin/domains/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
