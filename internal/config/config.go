// Package config loads and validates the gateway's static YAML
// configuration and compiles it into the runtime model the rest of the
// process depends on (locales, upstreams, route table, locator settings).
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/synapse-gateway/internal/ingesterr"
	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

// Listener is a host/port pair for a TCP listener.
type Listener struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (l Listener) Addr() string { return fmt.Sprintf("%s:%d", l.Host, l.Port) }

// Upstream is one named cell endpoint as declared in config.
type Upstream struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Locale string `yaml:"locale"`
}

// RouteMatch is a route's predicate block.
type RouteMatch struct {
	Host   string `yaml:"host"`
	Path   string `yaml:"path"`
	Method string `yaml:"method"`
}

// RouteAction names the handler and candidate locales a matched route
// dispatches to.
type RouteAction struct {
	Resolver string   `yaml:"resolver"`
	Locale   []string `yaml:"locale"`
}

// RouteSpec is one configured route.
type RouteSpec struct {
	Match  RouteMatch  `yaml:"match"`
	Action RouteAction `yaml:"action"`
}

// RelayTimeouts controls the upstream client and fan-out executor deadlines.
type RelayTimeouts struct {
	HTTPTimeoutSecs          int `yaml:"http_timeout_secs"`
	TaskInitialTimeoutSecs   int `yaml:"task_initial_timeout_secs"`
	TaskSubsequentTimeoutSecs int `yaml:"task_subsequent_timeout_secs"`
}

func (t RelayTimeouts) withDefaults() RelayTimeouts {
	if t.HTTPTimeoutSecs == 0 {
		t.HTTPTimeoutSecs = 15
	}
	if t.TaskInitialTimeoutSecs == 0 {
		t.TaskInitialTimeoutSecs = 20
	}
	if t.TaskSubsequentTimeoutSecs == 0 {
		t.TaskSubsequentTimeoutSecs = 5
	}
	return t
}

// BackupStoreSpec configures the locator's backup route provider.
type BackupStoreSpec struct {
	Kind        string `yaml:"kind"` // "filesystem" | "gcs"
	Path        string `yaml:"path"`
	Bucket      string `yaml:"bucket"`
	ObjectKey   string `yaml:"object_key"`
	Compression string `yaml:"compression"` // "none" | "gzip" | "zstd1" | "zstd3"
}

// LocatorSpec configures the locator's control-plane sync.
type LocatorSpec struct {
	ControlPlaneURL      string            `yaml:"control_plane_url"`
	BackupStore          BackupStoreSpec   `yaml:"backup_store"`
	LocalityToDefaultCell map[string]string `yaml:"locality_to_default_cell"`
	DataType             string            `yaml:"data_type"` // "organization" | "project_key"
}

// Config is the fully decoded YAML configuration document.
type Config struct {
	Listener      Listener            `yaml:"listener"`
	AdminListener Listener            `yaml:"admin_listener"`
	LocaleToCells map[string][]string `yaml:"locale_to_cells"`
	Upstreams     []Upstream          `yaml:"upstreams"`
	Routes        []RouteSpec         `yaml:"routes"`
	RelayTimeouts RelayTimeouts       `yaml:"relay_timeouts"`
	Locator       LocatorSpec         `yaml:"locator"`

	// HMACSecret is populated from SYNAPSE_HMAC_SECRET, not from YAML.
	HMACSecret string `yaml:"-"`
}

// Load reads and parses the YAML file at path, populates HMACSecret from the
// environment, and validates the result. It returns an *ingesterr.InvalidConfig
// on any validation failure.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ingesterr.InvalidConfig{Kind: "read", Msg: err.Error()}
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ingesterr.InvalidConfig{Kind: "parse", Msg: err.Error()}
	}

	cfg.RelayTimeouts = cfg.RelayTimeouts.withDefaults()

	if secret, ok := os.LookupEnv("SYNAPSE_HMAC_SECRET"); ok {
		cfg.HMACSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the startup invariants spec.md §6.4 requires, failing
// fast with an *ingesterr.InvalidConfig describing the first problem found.
func (c *Config) Validate() error {
	if c.Listener.Port <= 0 {
		return &ingesterr.InvalidConfig{Kind: "port", Msg: "listener.port must be > 0"}
	}
	if c.AdminListener.Port <= 0 {
		return &ingesterr.InvalidConfig{Kind: "port", Msg: "admin_listener.port must be > 0"}
	}

	seen := make(map[string]struct{}, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if u.Name == "" {
			return &ingesterr.InvalidConfig{Kind: "upstream_name", Msg: "upstream name must not be empty"}
		}
		if _, dup := seen[u.Name]; dup {
			return &ingesterr.InvalidConfig{Kind: "upstream_name", Msg: fmt.Sprintf("duplicate upstream name %q", u.Name)}
		}
		seen[u.Name] = struct{}{}
		if _, err := url.Parse(u.URL); err != nil {
			return &ingesterr.InvalidConfig{Kind: "upstream_url", Msg: fmt.Sprintf("upstream %q: %v", u.Name, err)}
		}
	}

	for name, cells := range c.LocaleToCells {
		if len(cells) == 0 {
			return &ingesterr.InvalidConfig{Kind: "locale", Msg: fmt.Sprintf("locale %q has an empty cell list", name)}
		}
		for _, cellName := range cells {
			if _, ok := seen[cellName]; !ok {
				return &ingesterr.InvalidConfig{Kind: "locale", Msg: fmt.Sprintf("locale %q references unknown upstream %q", name, cellName)}
			}
		}
	}

	for _, r := range c.Routes {
		switch r.Match.Method {
		case "", "GET", "POST", "PUT", "DELETE":
		default:
			return &ingesterr.InvalidConfig{Kind: "method", Msg: fmt.Sprintf("route has unsupported method %q", r.Match.Method)}
		}
		for _, loc := range r.Action.Locale {
			if _, ok := c.LocaleToCells[loc]; !ok {
				return &ingesterr.InvalidConfig{Kind: "route_locale", Msg: fmt.Sprintf("route action references unknown locale %q", loc)}
			}
		}
	}

	if c.RelayTimeouts.TaskInitialTimeoutSecs < c.RelayTimeouts.HTTPTimeoutSecs {
		return &ingesterr.InvalidConfig{Kind: "timeouts", Msg: "task_initial_timeout_secs must be >= http_timeout_secs"}
	}

	switch c.Locator.BackupStore.Kind {
	case "", "filesystem", "gcs":
	default:
		return &ingesterr.InvalidConfig{Kind: "backup_store", Msg: fmt.Sprintf("unknown backup store kind %q", c.Locator.BackupStore.Kind)}
	}
	switch c.Locator.BackupStore.Compression {
	case "", "none", "gzip", "zstd1", "zstd3":
	default:
		return &ingesterr.InvalidConfig{Kind: "compression", Msg: fmt.Sprintf("unknown compression %q", c.Locator.BackupStore.Compression)}
	}
	switch c.Locator.DataType {
	case "", "organization", "project_key":
	default:
		return &ingesterr.InvalidConfig{Kind: "data_type", Msg: fmt.Sprintf("unknown locator data_type %q", c.Locator.DataType)}
	}

	return nil
}

// Locales compiles locale_to_cells + upstreams into ordered model.Locale
// values, preserving the configured cell order (priority).
func (c *Config) Locales() map[string]model.Locale {
	byName := make(map[string]Upstream, len(c.Upstreams))
	for _, u := range c.Upstreams {
		byName[u.Name] = u
	}

	out := make(map[string]model.Locale, len(c.LocaleToCells))
	for locale, cellNames := range c.LocaleToCells {
		cells := make([]model.Cell, 0, len(cellNames))
		for _, name := range cellNames {
			u := byName[name]
			cells = append(cells, model.Cell{
				ID:         u.Name,
				RelayURL:   u.URL,
				BackendURL: u.URL,
			})
		}
		out[locale] = model.Locale{Name: locale, Cells: cells}
	}
	return out
}

// RouteTable compiles the configured routes into a first-match model.RouteTable.
func (c *Config) RouteTable() model.RouteTable {
	routes := make([]model.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		routes = append(routes, model.Route{
			MatchHost:   r.Match.Host,
			MatchPath:   r.Match.Path,
			MatchMethod: r.Match.Method,
			Resolver:    r.Action.Resolver,
			LocaleNames: r.Action.Locale,
		})
	}
	return model.RouteTable{Routes: routes}
}
