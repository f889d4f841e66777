package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crmbridge/internal/config"
	"crmbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.CRMConfig{
		BaseURL:  server.URL,
		APIKey:   "test-key",
		APIExtra: "test-extra",
		Timeout:  2 * time.Second,
	})
}

func TestIsAlive(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "test-extra", r.Header.Get("x-api-extra"))
		w.WriteHeader(http.StatusOK)
	}))

	alive, err := client.IsAlive(context.Background())
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestIsAliveDown(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	alive, err := client.IsAlive(context.Background())
	assert.Error(t, err)
	assert.False(t, alive)
}

func TestCreateMember(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/members", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "m-1", payload["external_id"])
		assert.Equal(t, "ann@example.com", payload["email"])

		json.NewEncoder(w).Encode(map[string]string{"id": "crm-42"})
	}))

	crmID, err := client.CreateMember(context.Background(), &models.Member{
		ID:        "m-1",
		Email:     "ann@example.com",
		FirstName: "Ann",
	})
	require.NoError(t, err)
	assert.Equal(t, "crm-42", crmID)
}

func TestUpdateMemberKeepsIDWhenOmitted(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/members/crm-42", r.URL.Path)
		w.Write([]byte(`{}`))
	}))

	crmID, err := client.UpdateMember(context.Background(), &models.Member{
		ID:    "m-1",
		Email: "ann@example.com",
		CrmID: "crm-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "crm-42", crmID)
}

func TestDeleteMemberNotFound(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	err := client.DeleteMember(context.Background(), "crm-42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMember(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/members/crm-42", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.DeleteMember(context.Background(), "crm-42"))
}

func TestCreateVehicle(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/vehicles", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "VIN123", payload["vin"])
		assert.Equal(t, "m-1", payload["owner_id"])

		json.NewEncoder(w).Encode(map[string]string{"id": "crm-v-7"})
	}))

	crmID, err := client.CreateVehicle(context.Background(), &models.Vehicle{
		ID:      "v-1",
		VIN:     "VIN123",
		OwnerID: "m-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "crm-v-7", crmID)
}

func TestVerifyVehicle(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/vehicles/crm-v-7/verify", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]bool{"verified": true})
	}))

	verified, err := client.VerifyVehicle(context.Background(), &models.Vehicle{CrmID: "crm-v-7"})
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.CreateMember(context.Background(), &models.Member{ID: "m-1", Email: "a@b.c", FirstName: "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
