package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Endpoint is a parsed backend address. BasePath is kept separate so
// adapters can join their API paths onto proxied deployments.
type Endpoint struct {
	Scheme   string
	Host     string
	Port     int
	BasePath string
}

func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) BaseURL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, e.Host, e.Port, e.BasePath)
}

// ParseEndpoint accepts "host", "host:port", or a full URL with an optional
// path. Missing pieces fall back to http, 127.0.0.1 and defaultPort.
func ParseEndpoint(raw string, defaultPort int) Endpoint {
	ep := Endpoint{}
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "http://") {
		ep.Scheme = "http"
		s = strings.TrimPrefix(s, "http://")
	} else if strings.HasPrefix(s, "https://") {
		ep.Scheme = "https"
		s = strings.TrimPrefix(s, "https://")
	}

	if slash := strings.Index(s, "/"); slash >= 0 {
		ep.BasePath = s[slash:]
		s = s[:slash]
	}

	if colon := strings.LastIndex(s, ":"); colon >= 0 {
		ep.Host = s[:colon]
		if p, err := strconv.Atoi(s[colon+1:]); err == nil {
			ep.Port = p
		}
	} else {
		ep.Host = s
	}

	if ep.Port == 0 {
		ep.Port = defaultPort
	}
	if ep.Host == "" {
		ep.Host = "127.0.0.1"
	}
	return ep
}
