package tutorbook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Version    uint16          `json:"version" yaml:"version"`
	Identities []IdentitySeed  `json:"identities" yaml:"identities"`
	Trusted    []string        `json:"trusted" yaml:"trusted"`
	Routing    RoutingConfig   `json:"routing" yaml:"routing"`
	Locations  []*LocationSeed `json:"locations" yaml:"locations"`
	Engine     EngineConfig    `json:"engine" yaml:"engine"`
}

// IdentitySeed maps a bearer token to a resolved identity. Production runs a
// session-backed resolver; the seed list covers dev and test deployments.
type IdentitySeed struct {
	Token      string   `json:"token" yaml:"token"`
	UID        string   `json:"uid" yaml:"uid"`
	Email      string   `json:"email" yaml:"email"`
	Supervisor bool     `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
	Locations  []string `json:"locations,omitempty" yaml:"locations,omitempty"`
	Parent     bool     `json:"parent,omitempty" yaml:"parent,omitempty"`
	Children   []string `json:"children,omitempty" yaml:"children,omitempty"`
}

// RoutingConfig overrides the path routing tables. Values are kind names;
// unknown collections stay unroutable.
type RoutingConfig struct {
	User     map[string]string `json:"user,omitempty" yaml:"user,omitempty"`
	Location map[string]string `json:"location,omitempty" yaml:"location,omitempty"`
}

// LocationSeed bootstraps a locations/{id} document.
type LocationSeed struct {
	ID  string   `json:"id" yaml:"id"`
	Doc Location `json:"doc" yaml:"doc"`
}

type EngineConfig struct {
	ReadCacheTTL        int64 `json:"read_cache_ttl_ms" yaml:"read_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks cross-field consistency before the config is applied.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Identities))
	for _, id := range c.Identities {
		if id.Token == "" || id.UID == "" {
			return fmt.Errorf("identity %q: token and uid are required", id.Email)
		}
		if seen[id.Token] {
			return fmt.Errorf("identity %q: duplicate token", id.Email)
		}
		seen[id.Token] = true
		if len(id.Locations) > 0 && !id.Supervisor {
			return fmt.Errorf("identity %q: location claims require the supervisor claim", id.Email)
		}
		if len(id.Children) > 0 && !id.Parent {
			return fmt.Errorf("identity %q: child claims require the parent claim", id.Email)
		}
	}
	kinds := make(map[string]bool)
	for _, k := range userCollections {
		kinds[string(k)] = true
	}
	for _, k := range locationCollections {
		kinds[string(k)] = true
	}
	for name, kind := range c.Routing.User {
		if !kinds[kind] {
			return fmt.Errorf("routing: collection %q mapped to unknown kind %q", name, kind)
		}
	}
	for name, kind := range c.Routing.Location {
		if !kinds[kind] {
			return fmt.Errorf("routing: collection %q mapped to unknown kind %q", name, kind)
		}
	}
	return nil
}

// ApplyConfig applies configuration to the engine and its stores.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Engine.ReadCacheTTL > 0 {
		e.readCacheTTL = time.Duration(cfg.Engine.ReadCacheTTL) * time.Millisecond
	}
	if cfg.Engine.RistrettoNumCounter > 0 {
		if err := e.ConfigureReadCache(cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer); err != nil {
			return err
		}
	}

	if len(cfg.Routing.User) > 0 || len(cfg.Routing.Location) > 0 {
		e.classifier.SetRouting(routingTable(cfg.Routing.User, userCollections), routingTable(cfg.Routing.Location, locationCollections))
	}

	if static, ok := e.resolver.(*StaticResolver); ok {
		for _, seed := range cfg.Identities {
			static.Add(seed.Token, &Identity{
				UID:   seed.UID,
				Email: seed.Email,
				Claims: Claims{
					Supervisor: seed.Supervisor,
					Locations:  append([]string(nil), seed.Locations...),
					Parent:     seed.Parent,
					Children:   append([]string(nil), seed.Children...),
				},
			})
		}
	}
	for _, uid := range cfg.Trusted {
		e.TrustServer(uid)
	}

	// Seed location docs directly; bootstrap predates any caller identity.
	for _, seed := range cfg.Locations {
		doc := seed.Doc
		if _, err := e.store.Get(ctx, "locations/"+seed.ID); err == nil {
			continue
		}
		batch := (&Batch{}).Create("locations/"+seed.ID, &doc)
		if err := e.store.Apply(ctx, batch); err != nil {
			return fmt.Errorf("seed location %s: %w", seed.ID, err)
		}
	}
	e.InvalidateReadCache()
	return nil
}

func routingTable(override map[string]string, defaults map[string]Kind) map[string]Kind {
	if len(override) == 0 {
		return nil
	}
	out := make(map[string]Kind, len(defaults))
	for name, kind := range defaults {
		out[name] = kind
	}
	for name, kindName := range override {
		out[name] = Kind(kindName)
	}
	return out
}
