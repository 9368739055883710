package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

func TestNew_StripsAPISuffix(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", New("http://localhost:8080/api/").BaseURL())
	assert.Equal(t, "http://fleet:8081", New("http://fleet:8081").BaseURL())
}

func TestStatusError(t *testing.T) {
	err := error(&StatusError{Code: 404, Body: "no route\n"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.EqualError(t, err, "api status 404: no route")
	assert.False(t, errors.Is(&StatusError{Code: 500}, ErrNotFound))
	assert.EqualError(t, &StatusError{Code: 502}, "api status 502")
}

func TestClient_SendsTokenAndJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/optimize/recalculate-drivers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"driverIds":[3,5]}`, string(body))
		w.Write([]byte(`{"success":true,"recalculated":2,"routes":[]}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, WithToken("secret")).RecalculateDrivers(context.Background(), []int64{3, 5})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Recalculated)
}

func TestClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).RecalculateDrivers(context.Background(), []int64{1})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	_, err := New(srv.URL, WithTimeout(50*time.Millisecond)).ListVehicles(context.Background())
	assert.Error(t, err)
}

func TestClient_TimeoutWithOwnHTTPClient(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	own := &http.Client{}
	for _, c := range []*Client{
		New(srv.URL, WithTimeout(50*time.Millisecond), WithHTTPClient(own)),
		New(srv.URL, WithHTTPClient(own), WithTimeout(50*time.Millisecond)),
	} {
		assert.Equal(t, 50*time.Millisecond, c.http.Timeout)
		_, err := c.ListVehicles(context.Background())
		assert.Error(t, err)
	}
	assert.Zero(t, own.Timeout)

	assert.Equal(t, DefaultTimeout, New(srv.URL).http.Timeout)
	assert.Same(t, own, New(srv.URL, WithHTTPClient(own)).http)
}

func TestDecodeRoutes_BothShapes(t *testing.T) {
	wrapped, err := DecodeRoutes([]byte(`{"success":true,"routes":[{"vehicleId":5,"assignedOrders":[1,2]}]}`))
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.Equal(t, int64(5), wrapped[0].VehicleID)

	bare, err := DecodeRoutes([]byte(` [{"vehicleId":7}]`))
	require.NoError(t, err)
	require.Len(t, bare, 1)
	assert.Equal(t, int64(7), bare[0].VehicleID)

	_, err = DecodeRoutes([]byte(`   `))
	assert.Error(t, err)
	_, err = DecodeRoutes([]byte(`{"routes": 3}`))
	assert.Error(t, err)
}

func TestFetchRoutes_ReturnsExactBody(t *testing.T) {
	body := `{"success":true,"routes":[{"vehicleId":5,"distance":1.25}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/routes", r.URL.Path)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	routes, raw, err := New(srv.URL).FetchRoutes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))
	assert.Equal(t, 1.25, routes[0].Distance)
}

func TestFetchRoute_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/routes/9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.RouteResponse{Success: false, Message: "No active route"})
	}))
	defer srv.Close()

	route, err := New(srv.URL).FetchRoute(context.Background(), 9)
	assert.Nil(t, route)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrders_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("driverId"))
		assert.Equal(t, "assigned", r.URL.Query().Get("status"))
		assert.Empty(t, r.URL.Query().Get("userId"))
		w.Write([]byte(`[{"id":42,"driverId":5,"status":"assigned","assignmentType":"auto"}]`))
	}))
	defer srv.Close()

	orders, err := New(srv.URL).ListOrders(context.Background(), models.OrderFilter{
		DriverID: models.IDPtr(5),
		Status:   models.StatusAssigned,
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.AssignmentAuto, orders[0].AssignmentType)
}

func TestUpdateOrder_SendsExplicitNulls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "driverId")
		assert.Nil(t, body["driverId"])
		assert.Contains(t, body, "assignmentType")
		assert.Nil(t, body["assignmentType"])
		w.Write([]byte(`{"id":42,"status":"pending","driverId":null,"assignmentType":null}`))
	}))
	defer srv.Close()

	o, err := New(srv.URL).UpdateOrder(context.Background(), 42, models.OrderUpdate{Status: models.StatusPending})
	require.NoError(t, err)
	assert.False(t, o.HasDriver())
}

func TestBulkDeleteOrders_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"orderIds":[1,2]}`, string(body))
		w.Write([]byte(`{"matched":2,"modified":2}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).BulkDeleteOrders(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Modified)
}

func TestDeleteOrder_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	assert.NoError(t, New(srv.URL).DeleteOrder(context.Background(), 3))
}
