package config

import (
	"github.com/kelseyhightower/envconfig"
)

// InfluxEnv is the InfluxDB connection taken from the environment (or a .env
// file loaded beforehand).
type InfluxEnv struct {
	Host   string `envconfig:"INFLUXDB_HOST" required:"true"`
	User   string `envconfig:"INFLUXDB_USER"`
	Token  string `envconfig:"INFLUXDB_TOKEN" required:"true"`
	Org    string `envconfig:"INFLUXDB_ORG" required:"true"`
	Bucket string `envconfig:"INFLUXDB_BUCKET" required:"true"`
}

func LoadInfluxEnv() (*InfluxEnv, error) {
	var env InfluxEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ApplyTo fills the empty fields of db.
func (e *InfluxEnv) ApplyTo(db *DatabaseConfig) {
	if db.Host == "" {
		db.Host = e.Host
	}
	if db.User == "" {
		db.User = e.User
	}
	if db.Password == "" {
		db.Password = e.Token
	}
	if db.Org == "" {
		db.Org = e.Org
	}
	if db.Name == "" {
		db.Name = e.Bucket
	}
}
