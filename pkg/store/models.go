package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Severity levels an operator may assign to an Endpoint.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Check outcomes (§3).
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Endpoint is the monitored target (§3).
type Endpoint struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	URL            string         `db:"url" json:"url"`
	CheckInterval  int            `db:"check_interval" json:"checkInterval"`
	Timeout        int            `db:"timeout" json:"timeout"`
	ExpectedStatus int            `db:"expected_status" json:"expectedStatus"`
	Severity       string         `db:"severity" json:"severity"`
	Enabled        bool           `db:"enabled" json:"enabled"`
	Tags           pq.StringArray `db:"tags" json:"tags"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// UptimeCheck is one immutable probe outcome (§3).
type UptimeCheck struct {
	ID           uuid.UUID `db:"id" json:"id"`
	EndpointID   uuid.UUID `db:"endpoint_id" json:"endpointId"`
	EndpointName string    `db:"endpoint_name" json:"endpointName"`
	Status       string    `db:"status" json:"status"`
	StatusCode   int       `db:"status_code" json:"statusCode"`
	ResponseTime float64   `db:"response_time" json:"responseTime"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	ErrorReason  *string   `db:"error_reason" json:"errorReason,omitempty"`
}

// HourlyAggregate is a roll-up row over one (endpoint, hour) bucket (§3).
type HourlyAggregate struct {
	EndpointID       uuid.UUID `db:"endpoint_id" json:"endpointId"`
	EndpointName     string    `db:"endpoint_name" json:"endpointName"`
	HourStart        time.Time `db:"hour_start" json:"hourStart"`
	TotalChecks      int       `db:"total_checks" json:"totalChecks"`
	SuccessfulChecks int       `db:"successful_checks" json:"successfulChecks"`
	FailedChecks     int       `db:"failed_checks" json:"failedChecks"`
	AvgResponseTime  float64   `db:"avg_response_time" json:"avgResponseTime"`
	MinResponseTime  float64   `db:"min_response_time" json:"minResponseTime"`
	MaxResponseTime  float64   `db:"max_response_time" json:"maxResponseTime"`
}

// DailyAggregate is a roll-up row over one (endpoint, day) bucket (§3).
type DailyAggregate struct {
	EndpointID        uuid.UUID `db:"endpoint_id" json:"endpointId"`
	EndpointName      string    `db:"endpoint_name" json:"endpointName"`
	DayStart          time.Time `db:"day_start" json:"dayStart"`
	TotalChecks       int       `db:"total_checks" json:"totalChecks"`
	SuccessfulChecks  int       `db:"successful_checks" json:"successfulChecks"`
	FailedChecks      int       `db:"failed_checks" json:"failedChecks"`
	AvgResponseTime   float64   `db:"avg_response_time" json:"avgResponseTime"`
	MinResponseTime   float64   `db:"min_response_time" json:"minResponseTime"`
	MaxResponseTime   float64   `db:"max_response_time" json:"maxResponseTime"`
	UptimePercentage  float64   `db:"uptime_percentage" json:"uptimePercentage"`
}

// UptimeStatistics is the derived 24-hour rolling view per endpoint (§3, §4.3).
// It is never persisted.
type UptimeStatistics struct {
	EndpointID          uuid.UUID     `json:"endpointId"`
	TotalChecks         int           `json:"totalChecks"`
	UpChecks            int           `json:"upChecks"`
	DownChecks          int           `json:"downChecks"`
	UptimePercentage    float64       `json:"uptimePercentage"`
	AvgResponseTime     float64       `json:"avgResponseTime"`
	LastCheck           *time.Time    `json:"lastCheck,omitempty"`
	CurrentStatus       string        `json:"currentStatus"`
	RecentChecks        []UptimeCheck `json:"recentChecks"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
}
