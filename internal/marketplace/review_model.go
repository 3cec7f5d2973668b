package marketplace

import "time"

// Rating represents one buyer's score for a completed transaction
type Rating struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	ServiceID     string    `json:"service_id"`
	Rater         string    `json:"rater"`
	Score         int       `json:"score"`
	Review        string    `json:"review,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RateRequest represents the request payload for rating a transaction
type RateRequest struct {
	Score  int    `json:"score"`
	Review string `json:"review"`
}

// RatingSummary is returned after a rating updates a service's reputation
type RatingSummary struct {
	Rating    Rating  `json:"rating"`
	ServiceID string  `json:"service_id"`
	NewRating float64 `json:"new_rating"`
	Reviews   int     `json:"reviews"`
}

// MaxReviewLength bounds free-text reviews
const MaxReviewLength = 1000

// Stats is the operator dashboard snapshot
type Stats struct {
	Services     int `json:"services"`
	Pending      int `json:"pending_transactions"`
	Completed    int `json:"completed_transactions"`
	Failed       int `json:"failed_transactions"`
	OpenDisputes int `json:"open_disputes"`
	Ratings      int `json:"ratings"`
}
