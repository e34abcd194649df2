// Copyright 2025 TenantGrid
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tenantmanager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgrid/platform/lifecycle"
	"tenantgrid/platform/tenantdb"
)

type fakeLifecycle struct {
	mu          sync.Mutex
	onboarded   []string
	offboarded  []string
	onboardErr  error
	offboardErr error
	done        chan struct{}
}

func (f *fakeLifecycle) Onboard(ctx context.Context, tenantID, subdomain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onboardErr != nil {
		return f.onboardErr
	}
	f.onboarded = append(f.onboarded, tenantID+"/"+subdomain)
	return nil
}

func (f *fakeLifecycle) Offboard(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil {
		defer close(f.done)
	}
	if f.offboardErr != nil {
		return f.offboardErr
	}
	f.offboarded = append(f.offboarded, tenantID)
	return nil
}

type fakeResolver struct {
	db  *sql.DB
	err error
}

func (f *fakeResolver) PoolFor(ctx context.Context, tenantID string) (*sql.DB, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.db, nil
}

type fakeRecords struct {
	records   []tenantdb.Record
	selectErr error
	inserted  []tenantdb.Record
	insertErr error
}

func (f *fakeRecords) SelectTenantRecords(ctx context.Context, db *sql.DB, tenantID string) ([]tenantdb.Record, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return f.records, nil
}

func (f *fakeRecords) InsertTenantRecord(ctx context.Context, db *sql.DB, rec tenantdb.Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, rec)
	return nil
}

func newTestServer(lc *fakeLifecycle, resolver *fakeResolver, records *fakeRecords) *Server {
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	if records == nil {
		records = &fakeRecords{}
	}
	return NewServer(lc, resolver, records, "apps.example.com")
}

func TestSubscribeHandler(t *testing.T) {
	lc := &fakeLifecycle{}
	srv := newTestServer(lc, nil, nil)

	req := httptest.NewRequest(http.MethodPut, "/callback/v1.0/tenants/tenant-123",
		strings.NewReader(`{"subscribedSubdomain":"acme"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://acme.apps.example.com", rec.Body.String())
	assert.Equal(t, []string{"tenant-123/acme"}, lc.onboarded)
}

func TestSubscribeHandler_MissingSubdomain(t *testing.T) {
	lc := &fakeLifecycle{}
	srv := newTestServer(lc, nil, nil)

	req := httptest.NewRequest(http.MethodPut, "/callback/v1.0/tenants/tenant-123",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, lc.onboarded)
}

func TestSubscribeHandler_OnboardFailure(t *testing.T) {
	lc := &fakeLifecycle{onboardErr: errors.New("provisioning failed")}
	srv := newTestServer(lc, nil, nil)

	req := httptest.NewRequest(http.MethodPut, "/callback/v1.0/tenants/tenant-123",
		strings.NewReader(`{"subscribedSubdomain":"acme"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestUnsubscribeHandler_RespondsImmediately(t *testing.T) {
	lc := &fakeLifecycle{done: make(chan struct{})}
	srv := newTestServer(lc, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/callback/v1.0/tenants/tenant-123", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	// The callback acknowledges before offboarding finishes.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())

	select {
	case <-lc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("offboarding was never started")
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	assert.Equal(t, []string{"tenant-123"}, lc.offboarded)
}

func TestListProductsHandler(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	records := &fakeRecords{records: []tenantdb.Record{
		{ID: 1, Name: "Widget", Price: 9.99, Available: true, TenantID: "tenant-123"},
	}}
	srv := newTestServer(&fakeLifecycle{}, &fakeResolver{db: db}, records)

	req := httptest.NewRequest(http.MethodGet, "/v1/products", nil)
	req.Header.Set("X-Tenant-ID", "tenant-123")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []tenantdb.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Widget", got[0].Name)
}

func TestListProductsHandler_MissingTenantHeader(t *testing.T) {
	srv := newTestServer(&fakeLifecycle{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/products", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProductsHandler_TenantNotOnboarded(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("tenant tenant-ghost: %w", lifecycle.ErrTenantNotOnboarded)}
	srv := newTestServer(&fakeLifecycle{}, resolver, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/products", nil)
	req.Header.Set("X-Tenant-ID", "tenant-ghost")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProductsHandler_EmptyResultIsArray(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	srv := newTestServer(&fakeLifecycle{}, &fakeResolver{db: db}, &fakeRecords{})

	req := httptest.NewRequest(http.MethodGet, "/v1/products", nil)
	req.Header.Set("X-Tenant-ID", "tenant-123")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestCreateProductHandler(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	records := &fakeRecords{}
	srv := newTestServer(&fakeLifecycle{}, &fakeResolver{db: db}, records)

	req := httptest.NewRequest(http.MethodPost, "/v1/products",
		strings.NewReader(`{"name":"Widget","price":9.99,"quantity":5,"available":true}`))
	req.Header.Set("X-Tenant-ID", "tenant-123")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, records.inserted, 1)
	assert.Equal(t, "Widget", records.inserted[0].Name)
	assert.Equal(t, 9.99, records.inserted[0].Price)
}

func TestCreateProductHandler_MissingName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	records := &fakeRecords{}
	srv := newTestServer(&fakeLifecycle{}, &fakeResolver{db: db}, records)

	req := httptest.NewRequest(http.MethodPost, "/v1/products", strings.NewReader(`{"price":1}`))
	req.Header.Set("X-Tenant-ID", "tenant-123")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, records.inserted)
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(&fakeLifecycle{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "tenant-manager", body["service"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeLifecycle{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
