package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPoolSize       = 5
	DefaultConnectTimeout = 10 * time.Second
	DefaultServerPort     = 8080
	DefaultWebDir         = "web"

	envPrefix = "SCHEMAMODEL_"
)

type DBConfig struct {
	Type         string `yaml:"type" json:"type"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	DatabaseName string `yaml:"database_name" json:"database_name"`
	DSN          string `yaml:"dsn" json:"dsn"` // optional explicit DSN
}

type ServerConfig struct {
	Port int    `yaml:"port" json:"port"`
	Web  string `yaml:"web" json:"web"`
}

// ModelConfig tunes the metadata connection pool behind a schema tree.
type ModelConfig struct {
	PoolSize       int           `yaml:"pool_size" json:"pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

type AppConfig struct {
	Database DBConfig     `yaml:"database" json:"database"`
	Server   ServerConfig `yaml:"server" json:"server"`
	Model    ModelConfig  `yaml:"model" json:"model"`
	Log      LogConfig    `yaml:"log" json:"log"`
}

// Default returns a config with every default applied and no database.
func Default() AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Web == "" {
		c.Server.Web = DefaultWebDir
	}
	if c.Model.PoolSize <= 0 {
		c.Model.PoolSize = DefaultPoolSize
	}
	if c.Model.ConnectTimeout <= 0 {
		c.Model.ConnectTimeout = DefaultConnectTimeout
	}
}

// LoadFile loads YAML config from path and fills in defaults.
func LoadFile(path string) (AppConfig, error) {
	var cfg AppConfig
	f, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return AppConfig{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadEnv reads a dotenv file into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides c with the SCHEMAMODEL_* environment variables that are
// set, e.g. SCHEMAMODEL_DB_DSN or SCHEMAMODEL_POOL_SIZE.
func (c *AppConfig) ApplyEnv() error {
	str := map[string]*string{
		"DB_TYPE":     &c.Database.Type,
		"DB_HOST":     &c.Database.Host,
		"DB_USER":     &c.Database.Username,
		"DB_PASSWORD": &c.Database.Password,
		"DB_NAME":     &c.Database.DatabaseName,
		"DB_DSN":      &c.Database.DSN,
		"WEB_DIR":     &c.Server.Web,
		"LOG_LEVEL":   &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DB_PORT":     &c.Database.Port,
		"SERVER_PORT": &c.Server.Port,
		"POOL_SIZE":   &c.Model.PoolSize,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(envPrefix + "CONNECT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCONNECT_TIMEOUT: %w", envPrefix, err)
		}
		c.Model.ConnectTimeout = d
	}
	c.applyDefaults()
	return nil
}

// NormalizeDriver maps common aliases to canonical keys (keeps backwards compat).
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "postgresql", "pg", "postgres":
		return "postgres"
	case "pgx", "pgx/v5":
		return "pgx"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mssql", "sqlserver":
		return "sqlserver"
	case "godror", "oracle":
		return "godror"
	default:
		return strings.ToLower(d)
	}
}

// BuildDriverAndDSN produces a driver name and DSN string for supported DB types.
func BuildDriverAndDSN(db DBConfig) (driver string, dsn string, err error) {
	// If explicit DSN provided, user must also set Type to choose driver or we guess
	t := NormalizeDriver(db.Type)

	if db.DSN != "" {
		return t, db.DSN, nil
	}

	switch t {
	case "postgres", "pgx":
		driver = t
		// simple URL form
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "mysql":
		driver = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "sqlite":
		driver = "sqlite"
		if db.DatabaseName == "" {
			return "", "", fmt.Errorf("sqlite needs a file path in database_name")
		}
		dsn = fmt.Sprintf("file:%s?mode=ro", db.DatabaseName)
	case "sqlserver":
		driver = "sqlserver"
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "godror":
		driver = "godror"
		// simple EZCONNECT style; may need adjustments per environment
		dsn = fmt.Sprintf("%s/%s@%s:%d/%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	default:
		err = fmt.Errorf("unsupported database type: %s", db.Type)
	}
	return
}
