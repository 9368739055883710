package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DefaultOSRMURL is the public OSRM demo server.
const DefaultOSRMURL = "https://router.project-osrm.org"

// PathFinder follows roads between waypoints.
type PathFinder interface {
	Path(ctx context.Context, waypoints []models.Point) ([]models.Point, error)
}

// OSRM fetches driving geometry from an OSRM server.
type OSRM struct {
	BaseURL string
	HTTP    *http.Client
}

// NewOSRM returns an OSRM client for baseURL.
func NewOSRM(baseURL string) *OSRM {
	if baseURL == "" {
		baseURL = DefaultOSRMURL
	}
	return &OSRM{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// Path returns the road geometry through waypoints, in order.
func (o *OSRM) Path(ctx context.Context, waypoints []models.Point) ([]models.Point, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("need at least two waypoints")
	}
	coords := make([]string, len(waypoints))
	for i, p := range waypoints {
		coords[i] = fmt.Sprintf("%.6f,%.6f", p.Lng(), p.Lat())
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=geojson", o.BaseURL, strings.Join(coords, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("no route")
	}
	coordsOut := obj.Routes[0].Geometry.Coordinates
	pts := make([]models.Point, 0, len(coordsOut))
	for _, c := range coordsOut {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, models.NewPoint(c[1], c[0]))
	}
	return pts, nil
}
