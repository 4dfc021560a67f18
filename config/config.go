// Package config decodes and represents the client's connection
// configuration record, accepted either as the FFI binary wire format,
// a generic map (for Go callers and tests), or YAML (for the CLI).
package config

import (
	"encoding/binary"
	"fmt"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/internal/pool"
	"github.com/glidecore/valkeycore/internal/router"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// TLSMode mirrors the FFI enum of the same name.
type TLSMode string

const (
	NoTLS       TLSMode = "NoTls"
	SecureTLS   TLSMode = "SecureTls"
	InsecureTLS TLSMode = "InsecureTls"
)

// Protocol mirrors the FFI enum of the same name.
type Protocol string

const (
	RESP2 Protocol = "Resp2"
	RESP3 Protocol = "Resp3"
)

// Address is one seed endpoint.
type Address struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Auth holds AUTH/HELLO credentials.
type Auth struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RetrySchedule mirrors the reconnect/retry backoff parameters.
type RetrySchedule struct {
	NumberOfRetries int     `mapstructure:"number_of_retries" yaml:"number_of_retries"`
	Factor          float64 `mapstructure:"factor" yaml:"factor"`
	ExponentBase    float64 `mapstructure:"exponent_base" yaml:"exponent_base"`
}

// ToBackoff converts the wire schedule into the pool's Backoff type.
func (r RetrySchedule) ToBackoff() pool.Backoff {
	return pool.Backoff{NumberOfRetries: r.NumberOfRetries, Factor: r.Factor, ExponentBase: r.ExponentBase}
}

// PubSubSubscriptions are the initial subscriptions reapplied on every
// reconnect.
type PubSubSubscriptions struct {
	Exact   []string `mapstructure:"exact" yaml:"exact"`
	Pattern []string `mapstructure:"pattern" yaml:"pattern"`
	Shard   []string `mapstructure:"shard" yaml:"shard"`
}

// ReadFrom is the read-policy selector; Zone is only meaningful for
// AZAffinity.
type ReadFrom struct {
	Policy string `mapstructure:"policy" yaml:"policy"` // Primary | PreferReplica | LowestLatency | AZAffinity
	Zone   string `mapstructure:"zone" yaml:"zone"`
}

// ToRouterPolicy converts the wire policy name into router.ReadFromPolicy.
func (r ReadFrom) ToRouterPolicy() router.ReadFromPolicy {
	switch r.Policy {
	case "PreferReplica":
		return router.PreferReplica
	case "LowestLatency":
		return router.LowestLatency
	case "AZAffinity":
		return router.AZAffinity
	default:
		return router.Primary
	}
}

// Config is the full connection configuration record.
type Config struct {
	Addresses   []Address `mapstructure:"addresses" yaml:"addresses"`
	ClusterMode bool      `mapstructure:"cluster_mode" yaml:"cluster_mode"`
	TLSMode     TLSMode   `mapstructure:"tls_mode" yaml:"tls_mode"`
	Auth        Auth      `mapstructure:"auth" yaml:"auth"`
	DatabaseID  uint32    `mapstructure:"database_id" yaml:"database_id"`
	Protocol    Protocol  `mapstructure:"protocol" yaml:"protocol"`
	ClientName  string    `mapstructure:"client_name" yaml:"client_name"`

	RequestTimeoutMs    uint32 `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms"`
	ConnectionTimeoutMs uint32 `mapstructure:"connection_timeout_ms" yaml:"connection_timeout_ms"`

	ReadFrom ReadFrom      `mapstructure:"read_from" yaml:"read_from"`
	Retry    RetrySchedule `mapstructure:"retry" yaml:"retry"`

	PubSubSubscriptions PubSubSubscriptions `mapstructure:"pubsub_subscriptions" yaml:"pubsub_subscriptions"`
}

// Defaults applies the runtime's documented defaults for zero-valued
// fields.
func Defaults() Config {
	return Config{
		Protocol:            RESP3,
		RequestTimeoutMs:    1000,
		ConnectionTimeoutMs: 250,
		Retry:               RetrySchedule{NumberOfRetries: 5, Factor: 1, ExponentBase: 2},
	}
}

// FromMap decodes a generic map (e.g. from viper, or a test fixture) into
// a Config via mapstructure, starting from Defaults().
func FromMap(raw map[string]interface{}) (*Config, error) {
	cfg := Defaults()
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromYAML decodes a YAML document into a Config, for CLI/profile use.
func FromYAML(raw []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the rest of the runtime cannot act on.
func (c *Config) Validate() error {
	if len(c.Addresses) == 0 {
		return apierrors.New(apierrors.ConfigError, "addresses: at least one seed endpoint is required")
	}
	for _, a := range c.Addresses {
		if a.Host == "" || a.Port <= 0 || a.Port > 65535 {
			return apierrors.New(apierrors.ConfigError, fmt.Sprintf("addresses: invalid endpoint %+v", a))
		}
	}
	if c.TLSMode == "" {
		c.TLSMode = NoTLS
	}
	if c.Protocol == "" {
		c.Protocol = RESP3
	}
	return nil
}

// Decode parses the FFI binary wire record: a fixed header followed by
// length-prefixed UTF-8 fields, matching the layout the FFI boundary
// marshals from the embedder's language.
//
// Layout (all integers little-endian):
//
//	u8  cluster_mode
//	u8  tls_mode            (0=NoTls, 1=SecureTls, 2=InsecureTls)
//	u8  protocol             (0=Resp2, 1=Resp3)
//	u32 database_id
//	u32 request_timeout_ms
//	u32 connection_timeout_ms
//	u16 address_count
//	    repeated: u16 host_len, host bytes, u16 port
//	u16 username_len, username bytes
//	u16 password_len, password bytes
//	u16 client_name_len, client_name bytes
func Decode(raw []byte) (*Config, error) {
	r := &byteReader{buf: raw}

	cfg := Defaults()

	clusterMode, err := r.u8()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	cfg.ClusterMode = clusterMode != 0

	tlsMode, err := r.u8()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	cfg.TLSMode = []TLSMode{NoTLS, SecureTLS, InsecureTLS}[min3(int(tlsMode), 2)]

	proto, err := r.u8()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	cfg.Protocol = []Protocol{RESP2, RESP3}[min3(int(proto), 1)]

	if cfg.DatabaseID, err = r.u32(); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	if cfg.RequestTimeoutMs, err = r.u32(); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	if cfg.ConnectionTimeoutMs, err = r.u32(); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}

	addrCount, err := r.u16()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	for i := 0; i < int(addrCount); i++ {
		host, err := r.str16()
		if err != nil {
			return nil, apierrors.Wrap(apierrors.ConfigError, err)
		}
		port, err := r.u16()
		if err != nil {
			return nil, apierrors.Wrap(apierrors.ConfigError, err)
		}
		cfg.Addresses = append(cfg.Addresses, Address{Host: host, Port: int(port)})
	}

	if cfg.Auth.Username, err = r.str16(); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	if cfg.Auth.Password, err = r.str16(); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}
	if cfg.ClientName, err = r.str16(); err != nil {
		return nil, apierrors.Wrap(apierrors.ConfigError, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func min3(v, max int) int {
	if v < 0 || v > max {
		return 0
	}
	return v
}

// byteReader is a minimal little-endian cursor over the FFI wire format.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) u8() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("truncated config: expected 1 byte at offset %d", r.pos)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("truncated config: expected 2 bytes at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated config: expected 4 bytes at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *byteReader) str16() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("truncated config: expected %d string bytes at offset %d", n, r.pos)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
