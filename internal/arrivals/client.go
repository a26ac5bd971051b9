package arrivals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client fetches arrivals-and-departures from a OneBusAway-compatible REST
// API (bustime-style deployments expose the same endpoint shape).
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type arrivalsResponse struct {
	Code int `json:"code"`
	Data struct {
		Entry struct {
			ArrivalsAndDepartures []struct {
				TripID               string `json:"tripId"`
				PredictedArrivalTime int64  `json:"predictedArrivalTime"`
				ScheduledArrivalTime int64  `json:"scheduledArrivalTime"`
			} `json:"arrivalsAndDepartures"`
		} `json:"entry"`
	} `json:"data"`
}

func (c *Client) FetchArrivals(ctx context.Context, stopID string) ([]Arrival, error) {
	params := url.Values{}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	apiURL := fmt.Sprintf("%s/api/where/arrivals-and-departures-for-stop/%s.json",
		c.baseURL, url.PathEscape(stopID))
	if enc := params.Encode(); enc != "" {
		apiURL += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching arrivals: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching arrivals: status %d", resp.StatusCode)
	}

	var result arrivalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if result.Code != 0 && result.Code != http.StatusOK {
		return nil, fmt.Errorf("fetching arrivals: api code %d", result.Code)
	}

	var out []Arrival
	for _, ad := range result.Data.Entry.ArrivalsAndDepartures {
		out = append(out, Arrival{
			TripID:               ad.TripID,
			PredictedArrivalTime: ad.PredictedArrivalTime,
			ScheduledArrivalTime: ad.ScheduledArrivalTime,
		})
	}
	return out, nil
}
