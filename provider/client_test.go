// Copyright 2025 TenantGrid
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, staticTokens{token: "test-token"}), srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestResolveServiceOffering(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/service_offerings", r.URL.Path)
		assert.Equal(t, "postgresql-db", r.URL.Query().Get("name"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"items": []map[string]string{{"id": "offering-1", "name": "postgresql-db"}},
		})
	}))

	id, err := client.ResolveServiceOffering(context.Background(), "postgresql-db")
	require.NoError(t, err)
	assert.Equal(t, "offering-1", id)
}

func TestResolveServiceOffering_ZeroMatches(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"items": []map[string]string{}})
	}))

	_, err := client.ResolveServiceOffering(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "service offering", nf.Resource)
	assert.Equal(t, "missing", nf.Name)
}

func TestResolveServiceOffering_AmbiguousMatches(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"items": []map[string]string{
				{"id": "offering-1", "name": "db"},
				{"id": "offering-2", "name": "db"},
			},
		})
	}))

	_, err := client.ResolveServiceOffering(context.Background(), "db")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolvePlan(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/service_offerings/offering-1/plans", r.URL.Path)
		assert.Equal(t, "standard", r.URL.Query().Get("name"))

		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"items": []map[string]string{{"id": "plan-9", "name": "standard"}},
		})
	}))

	id, err := client.ResolvePlan(context.Background(), "offering-1", "standard")
	require.NoError(t, err)
	assert.Equal(t, "plan-9", id)
}

func TestCreateInstance(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/service_instances", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("accepts_incomplete"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tenant-acme", body["name"])
		assert.Equal(t, "plan-9", body["service_plan_id"])
		assert.Equal(t, map[string]interface{}{"database_id": "shared"}, body["parameters"])

		writeJSON(t, w, http.StatusAccepted, map[string]string{"id": "instance-42"})
	}))

	id, err := client.CreateInstance(context.Background(), "tenant-acme", "plan-9", map[string]interface{}{"database_id": "shared"})
	require.NoError(t, err)
	assert.Equal(t, "instance-42", id)
}

func TestCreateInstance_PlatformError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusForbidden)
	}))

	_, err := client.CreateInstance(context.Background(), "tenant-acme", "plan-9", nil)
	require.Error(t, err)

	var perr *PlatformError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusForbidden, perr.StatusCode)
	assert.Contains(t, perr.Message, "quota exceeded")
}

func TestGetInstanceStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/service_instances/instance-42", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"last_operation": map[string]string{"type": "create", "state": "in progress"},
		})
	}))

	status, err := client.GetInstanceStatus(context.Background(), "instance-42")
	require.NoError(t, err)
	assert.Equal(t, OpTypeCreate, status.OperationType)
	assert.True(t, status.InProgress())
	assert.False(t, status.Succeeded())
}

func TestCreateCredential(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/service_keys", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tenant-key", body["name"])
		assert.Equal(t, "instance-42", body["service_instance_id"])

		writeJSON(t, w, http.StatusCreated, map[string]interface{}{
			"id":   "key-7",
			"name": "tenant-key",
			"credentials": map[string]interface{}{
				"host":     "db.platform.internal",
				"port":     5432,
				"database": "tenant_acme",
				"username": "acme_user",
				"password": "acme_pass",
			},
		})
	}))

	cred, err := client.CreateCredential(context.Background(), "instance-42", "tenant-key")
	require.NoError(t, err)
	assert.Equal(t, "key-7", cred.ID)
	assert.Equal(t, "db.platform.internal", cred.Credentials.Host)
	assert.Equal(t, 5432, cred.Credentials.Port)
	assert.Equal(t, "tenant_acme", cred.Credentials.Database)
	assert.Equal(t, "acme_user", cred.Credentials.Username)
}

func TestListCredentials(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/service_instances/instance-42/service_keys", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "key-7", "name": "tenant-key"},
				{"id": "key-8", "name": "ops-key"},
			},
		})
	}))

	creds, err := client.ListCredentials(context.Background(), "instance-42")
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "key-7", creds[0].ID)
	assert.Equal(t, "ops-key", creds[1].Name)
}

func TestDeleteCredentialAndInstance(t *testing.T) {
	var deleted []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deleted = append(deleted, r.URL.Path)

		switch r.URL.Path {
		case "/v1/service_keys/key-7":
			w.WriteHeader(http.StatusNoContent)
		case "/v1/service_instances/instance-42":
			assert.Equal(t, "true", r.URL.Query().Get("accepts_incomplete"))
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	require.NoError(t, client.DeleteCredential(context.Background(), "key-7"))
	require.NoError(t, client.DeleteInstance(context.Background(), "instance-42"))
	assert.Equal(t, []string{"/v1/service_keys/key-7", "/v1/service_instances/instance-42"}, deleted)
}

func TestEnsureRoute_ExistingRoute(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "acme", r.URL.Query().Get("host"))
		assert.Equal(t, "domain-1", r.URL.Query().Get("domain_id"))

		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"items": []map[string]string{{"id": "route-3", "name": "acme"}},
		})
	}))

	id, err := client.EnsureRoute(context.Background(), "acme", "domain-1")
	require.NoError(t, err)
	assert.Equal(t, "route-3", id)
}

func TestEnsureRoute_CreatesWhenAbsent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, map[string]interface{}{"items": []map[string]string{}})
		case http.MethodPost:
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "acme", body["host"])
			assert.Equal(t, "domain-1", body["domain_id"])
			writeJSON(t, w, http.StatusCreated, map[string]string{"id": "route-new"})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	id, err := client.EnsureRoute(context.Background(), "acme", "domain-1")
	require.NoError(t, err)
	assert.Equal(t, "route-new", id)
}

func TestRouteLifecycle(t *testing.T) {
	var calls []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	require.NoError(t, client.MapRoute(context.Background(), "route-3", "app-1"))
	require.NoError(t, client.UnmapRoute(context.Background(), "route-3", "app-1"))
	require.NoError(t, client.DeleteRoute(context.Background(), "route-3"))

	assert.Equal(t, []string{
		"PUT /v1/routes/route-3/apps/app-1",
		"DELETE /v1/routes/route-3/apps/app-1",
		"DELETE /v1/routes/route-3",
	}, calls)
}

func TestFindRoute_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"items": []map[string]string{}})
	}))

	_, err := client.FindRoute(context.Background(), "ghost", "domain-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
