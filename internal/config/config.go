// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	API        API        `yaml:"api"`
	Session    Session    `yaml:"session"`
	ValKey     ValKey     `yaml:"valkey"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Items      Items      `yaml:"items"`
}

// API points the client at the backend and at the identity collaborators.
type API struct {
	// BaseURL is the prefix of every resource path, e.g. items/.
	BaseURL  string `yaml:"baseURL" default:"http://127.0.0.1:8000/api"`
	TokenURL string `yaml:"tokenURL" default:"http://127.0.0.1:8000/o/token/"`

	CSRFPath        string `yaml:"csrfPath" default:"auth/csrf/"`
	GoogleLoginPath string `yaml:"googleLoginPath" default:"auth/google/"`
	GoogleIssuerURL string `yaml:"googleIssuerURL" default:"https://accounts.google.com"`

	ClientID     commoncfg.SourceRef `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`

	Timeout time.Duration   `yaml:"timeout" default:"30s"`
	MTLS    *commoncfg.MTLS `yaml:"mtls"`
}

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeValKey StoreType = "valkey"
)

type Session struct {
	Store StoreType `yaml:"store" default:"file"`
	// File is expanded with os.ExpandEnv.
	File   string `yaml:"file" default:"$HOME/.inventory/session.db"`
	Bucket string `yaml:"bucket" default:"session"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"inventory"`
}

type Dispatcher struct {
	// SingleFlightRefresh makes concurrent 401s share one refresh call.
	SingleFlightRefresh bool `yaml:"singleFlightRefresh" default:"false"`
}

type Items struct {
	CacheTTL   time.Duration `yaml:"cacheTTL" default:"30s"`
	RetryDelay time.Duration `yaml:"retryDelay" default:"1s"`
}
