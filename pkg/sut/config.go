// Package sut models the system under test: a named set of HTTP
// services with base URLs, default headers, and timeouts.
package sut

import (
	"strings"

	"github.com/tombee/windtunnel/pkg/errors"
)

// DefaultTimeoutSeconds applies when a service does not set its own.
const DefaultTimeoutSeconds = 30.0

// Service is one HTTP service of the system under test.
type Service struct {
	BaseURL        string            `yaml:"base_url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds float64           `yaml:"timeout_seconds"`
}

// Config describes the complete system under test.
type Config struct {
	Name string `yaml:"name"`

	// DefaultHeaders are attached to every outgoing request. The
	// engine injects the per-instance X-Correlation-ID here on a
	// cloned config, so instances never share header state.
	DefaultHeaders map[string]string `yaml:"default_headers"`

	Services map[string]Service `yaml:"services"`
}

// Service looks up a service by name.
func (c *Config) Service(name string) (Service, error) {
	service, ok := c.Services[name]
	if !ok {
		return Service{}, &errors.NotFoundError{Resource: "service", ID: name}
	}
	if service.TimeoutSeconds <= 0 {
		service.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return service, nil
}

// Validate checks that every service has a usable base URL.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return &errors.ValidationError{
			Field:      "services",
			Message:    "at least one service is required",
			Suggestion: "define services with base_url entries in the SUT file",
		}
	}
	for name, service := range c.Services {
		if service.BaseURL == "" {
			return &errors.ValidationError{Field: "services." + name + ".base_url", Message: "base_url is required"}
		}
		if !strings.HasPrefix(service.BaseURL, "http://") && !strings.HasPrefix(service.BaseURL, "https://") {
			return &errors.ValidationError{
				Field:      "services." + name + ".base_url",
				Message:    "base_url must start with http:// or https://",
				Suggestion: "use a fully qualified URL such as http://localhost:8080",
			}
		}
		if service.TimeoutSeconds < 0 {
			return &errors.ValidationError{Field: "services." + name + ".timeout_seconds", Message: "must not be negative"}
		}
	}
	return nil
}

// Clone returns a deep copy. Each instance executes against its own
// clone so per-instance default headers cannot cross-talk.
func (c *Config) Clone() *Config {
	clone := &Config{
		Name:           c.Name,
		DefaultHeaders: make(map[string]string, len(c.DefaultHeaders)),
		Services:       make(map[string]Service, len(c.Services)),
	}
	for k, v := range c.DefaultHeaders {
		clone.DefaultHeaders[k] = v
	}
	for name, service := range c.Services {
		copied := service
		copied.Headers = make(map[string]string, len(service.Headers))
		for k, v := range service.Headers {
			copied.Headers[k] = v
		}
		clone.Services[name] = copied
	}
	return clone
}
