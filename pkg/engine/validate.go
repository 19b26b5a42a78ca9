package engine

import (
	"fmt"
	"net/url"

	"github.com/wtower/uptime-monitor/pkg/store"
)

var validSeverities = map[string]bool{
	store.SeverityCritical: true,
	store.SeverityHigh:     true,
	store.SeverityMedium:   true,
	store.SeverityLow:      true,
}

// EndpointInput is the operator-supplied shape for AddEndpoint/UpdateEndpoint,
// validated against §3's invariants before it ever reaches the store.
type EndpointInput struct {
	Name           string
	URL            string
	CheckInterval  int
	Timeout        int
	ExpectedStatus int
	Severity       string
	Enabled        bool
	Tags           []string
}

func validateEndpointInput(in EndpointInput) error {
	if in.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}

	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}

	if in.CheckInterval < 5 || in.CheckInterval > 3600 {
		return &ValidationError{Field: "checkInterval", Reason: "must be between 5 and 3600 seconds"}
	}
	if in.Timeout < 1 || in.Timeout > 60 {
		return &ValidationError{Field: "timeout", Reason: "must be between 1 and 60 seconds"}
	}
	if in.Timeout >= in.CheckInterval {
		return &ValidationError{Field: "timeout", Reason: "must be strictly less than checkInterval"}
	}
	if in.ExpectedStatus < 100 || in.ExpectedStatus > 599 {
		return &ValidationError{Field: "expectedStatus", Reason: "must be between 100 and 599"}
	}
	if !validSeverities[in.Severity] {
		return &ValidationError{Field: "severity", Reason: "must be one of critical, high, medium, low"}
	}
	if len(in.Tags) > 10 {
		return &ValidationError{Field: "tags", Reason: "at most 10 tags allowed"}
	}
	for _, tag := range in.Tags {
		if len(tag) > 50 {
			return &ValidationError{Field: "tags", Reason: fmt.Sprintf("tag %q exceeds 50 characters", tag)}
		}
	}
	return nil
}
