// SPDX-License-Identifier: Apache-2.0

// Package config loads the immutable AppConfig consumed at process
// bootstrap: a databases.connections[] document read through viper,
// with environment variables overriding matching keys.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/connstr"
)

// QueueStart is the number of additional worker queues to spawn for
// one tier at Lead startup.
type QueueStart struct {
	Start int `mapstructure:"start"`
}

// QueueStarts is one connection's queues.{cache,fast,medium,slow}
// block.
type QueueStarts struct {
	Cache  QueueStart `mapstructure:"cache"`
	Fast   QueueStart `mapstructure:"fast"`
	Medium QueueStart `mapstructure:"medium"`
	Slow   QueueStart `mapstructure:"slow"`
}

// Connection is one entry of databases.connections[], matched against
// a queue's database_name by Name.
type Connection struct {
	Name                       string      `mapstructure:"name"`
	EngineTag                  engine.Tag  `mapstructure:"engine"`
	ConnectionString           string      `mapstructure:"connection_string"`
	Host                       string      `mapstructure:"host"`
	Port                       int         `mapstructure:"port"`
	Database                   string      `mapstructure:"database"`
	Username                   string      `mapstructure:"username"`
	Password                   string      `mapstructure:"password"`
	TimeoutSeconds             int         `mapstructure:"timeout_seconds"`
	SSLEnabled                 bool        `mapstructure:"ssl_enabled"`
	SSLCertPath                string      `mapstructure:"ssl_cert_path"`
	SSLKeyPath                 string      `mapstructure:"ssl_key_path"`
	SSLRootCertPath            string      `mapstructure:"ssl_root_cert_path"`
	PreparedStatementCacheSize int         `mapstructure:"prepared_statement_cache_size"`
	TestMigration              bool        `mapstructure:"test_migration"`
	Queues                     QueueStarts `mapstructure:"queues"`
}

// Databases is the databases block of an AppConfig.
type Databases struct {
	Connections []Connection `mapstructure:"connections"`
}

// AppConfig is the process-wide configuration consumed at bootstrap.
// Unknown fields in the source document are ignored.
type AppConfig struct {
	Databases Databases `mapstructure:"databases"`
}

// Load reads an AppConfig from path (any format viper supports: yaml,
// json, toml) with PHILEMENT_-prefixed environment variables
// overriding matching keys.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("PHILEMENT")
	v.AutomaticEnv()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling %s: %w", path, err)
	}
	return &cfg, nil
}

// Resolve produces the engine.ConnectionConfig this entry's Lead
// connects with. When a connection_string is present it is decoded by
// connstr.Parse — the engine is sniffed from the string's shape — and
// the entry's ambient settings (timeout, SSL, cache size) are merged
// onto the parsed result. An explicit engine key overrides the
// sniffed tag.
func (c Connection) Resolve() (*engine.ConnectionConfig, error) {
	if c.ConnectionString == "" {
		return c.ConnectionConfig(), nil
	}

	parsed, err := connstr.Parse(&c.ConnectionString)
	if err != nil {
		return nil, err
	}
	if c.EngineTag != "" {
		parsed.EngineTag = c.EngineTag
	}
	parsed.TimeoutSeconds = c.TimeoutSeconds
	parsed.SSLEnabled = c.SSLEnabled
	parsed.SSLCertPath = c.SSLCertPath
	parsed.SSLKeyPath = c.SSLKeyPath
	parsed.SSLRootCertPath = c.SSLRootCertPath
	parsed.PreparedStatementCacheSize = c.PreparedStatementCacheSize
	return parsed, nil
}

// ConnectionConfig converts a parsed Connection into the
// engine.ConnectionConfig a driver's Connect expects.
func (c Connection) ConnectionConfig() *engine.ConnectionConfig {
	cfg := &engine.ConnectionConfig{
		EngineTag:                  c.EngineTag,
		TimeoutSeconds:             c.TimeoutSeconds,
		SSLEnabled:                 c.SSLEnabled,
		SSLCertPath:                c.SSLCertPath,
		SSLKeyPath:                 c.SSLKeyPath,
		SSLRootCertPath:            c.SSLRootCertPath,
		PreparedStatementCacheSize: c.PreparedStatementCacheSize,
	}
	if c.ConnectionString != "" {
		cs := c.ConnectionString
		cfg.ConnectionString = &cs
		return cfg
	}
	if c.Host != "" {
		cfg.Host = &c.Host
	}
	if c.Port != 0 {
		cfg.Port = &c.Port
	}
	if c.Database != "" {
		cfg.Database = &c.Database
	}
	if c.Username != "" {
		cfg.Username = &c.Username
	}
	if c.Password != "" {
		cfg.Password = &c.Password
	}
	return cfg
}
