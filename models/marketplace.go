package models

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Marketplace kinds understood by the connector factory.
const (
	KindSteam    = "steam"
	KindSkinport = "skinport"
	KindHTTPJSON = "httpjson"
	KindStatic   = "static"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Marketplace describes a price source that can be turned into a connector.
// Definitions come from the marketplaces file, the registry store, or the
// registration endpoint.
type Marketplace struct {
	Name       string          `json:"name" yaml:"name"`
	Kind       string          `json:"kind" yaml:"kind"`
	Endpoint   string          `json:"endpoint,omitempty" yaml:"endpoint"`
	Currency   string          `json:"currency,omitempty" yaml:"currency"`
	Reputation float64         `json:"reputation,omitempty" yaml:"reputation"`
	Price      decimal.Decimal `json:"price,omitempty" yaml:"price"`
	AppID      int             `json:"app_id,omitempty" yaml:"app_id"`
	Fallback   bool            `json:"fallback,omitempty" yaml:"fallback"`
}

// Normalize lower-cases identifiers and trims whitespace in place.
func (m *Marketplace) Normalize() {
	m.Name = strings.ToLower(strings.TrimSpace(m.Name))
	m.Kind = strings.ToLower(strings.TrimSpace(m.Kind))
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	m.Currency = strings.ToUpper(strings.TrimSpace(m.Currency))
}

// Validate rejects definitions that cannot be turned into a connector.
func (m *Marketplace) Validate() error {
	if !nameRegexp.MatchString(m.Name) {
		return fmt.Errorf("marketplace: invalid name %q", m.Name)
	}
	if m.Reputation < 0 || m.Reputation > 1 {
		return fmt.Errorf("marketplace %s: reputation %.2f outside [0,1]", m.Name, m.Reputation)
	}

	switch m.Kind {
	case KindSteam, KindSkinport:
		if m.Endpoint != "" {
			if err := validateEndpoint(m.Endpoint); err != nil {
				return fmt.Errorf("marketplace %s: %w", m.Name, err)
			}
		}
	case KindHTTPJSON:
		if err := validateEndpoint(m.Endpoint); err != nil {
			return fmt.Errorf("marketplace %s: %w", m.Name, err)
		}
	case KindStatic:
		if !m.Price.IsPositive() {
			return fmt.Errorf("marketplace %s: static price must be positive", m.Name)
		}
	case "":
		return fmt.Errorf("marketplace %s: kind is required", m.Name)
	default:
		return fmt.Errorf("marketplace %s: unknown kind %q", m.Name, m.Kind)
	}
	return nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.New("endpoint is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme %q not allowed", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("endpoint host is empty")
	}
	return nil
}
