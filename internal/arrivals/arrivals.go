package arrivals

import "context"

// Arrival is one predicted or scheduled arrival of a trip at a stop. Times
// are epoch milliseconds; a zero PredictedArrivalTime means no real-time
// prediction is available and the scheduled time should be used.
type Arrival struct {
	TripID               string
	PredictedArrivalTime int64
	ScheduledArrivalTime int64
}

// Fetcher returns the current arrivals for a stop. Any error is a transient
// fetch failure: the caller drops the cycle and retries at the next poll.
type Fetcher interface {
	FetchArrivals(ctx context.Context, stopID string) ([]Arrival, error)
}
