package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
	"strings"
)

const Name = "mammut"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// CollectionConf describes one federated entry collection. Incoming
// object types are mapped onto a collection handle; only collections
// with Federated set accept remote content.
type CollectionConf struct {
	Enabled   bool   `yaml:"enabled"`
	Federated bool   `yaml:"federated"`
	Type      string `yaml:"type"`
}

type AppConfig struct {
	Conf struct {
		Host      string
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		DataDir   string `yaml:"dataDir"`

		// Hostnames that may be fetched over plain http or with
		// relaxed TLS (local development only).
		DevHosts []string `yaml:"devHosts"`

		Collections map[string]CollectionConf `yaml:"collections"`

		AllowQuotes         bool `yaml:"allowQuotes"`
		DeliveryConcurrency int  `yaml:"deliveryConcurrency"`
		DomainPerMinute     int  `yaml:"domainPerMinute"`
		QueueBatch          int  `yaml:"queueBatch"`
		RetentionActivities int  `yaml:"retentionActivities"`
		RetentionEntries    int  `yaml:"retentionEntries"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)
	ApplyDefaults(c)

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("MAMMUT_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("MAMMUT_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.HttpPort = port
		}
	}
	if v := os.Getenv("MAMMUT_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if v := os.Getenv("MAMMUT_DATADIR"); v != "" {
		c.Conf.DataDir = v
	}
	if v := os.Getenv("MAMMUT_DEVHOSTS"); v != "" {
		c.Conf.DevHosts = strings.Split(v, ",")
	}
	if v := os.Getenv("MAMMUT_ALLOW_QUOTES"); v == "true" {
		c.Conf.AllowQuotes = true
	}
	if v := os.Getenv("MAMMUT_DELIVERY_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.DeliveryConcurrency = n
		}
	}
	if v := os.Getenv("MAMMUT_DOMAIN_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.DomainPerMinute = n
		}
	}
	if v := os.Getenv("MAMMUT_RETENTION_ACTIVITIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.RetentionActivities = n
		}
	}
	if v := os.Getenv("MAMMUT_RETENTION_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.RetentionEntries = n
		}
	}
}

// ApplyDefaults fills unset tuning values. Exported so tests can build
// configs without going through a file.
func ApplyDefaults(c *AppConfig) {
	if c.Conf.DeliveryConcurrency <= 0 {
		c.Conf.DeliveryConcurrency = 10
	}
	if c.Conf.DomainPerMinute <= 0 {
		c.Conf.DomainPerMinute = 30
	}
	if c.Conf.QueueBatch <= 0 {
		c.Conf.QueueBatch = 25
	}
	if c.Conf.Collections == nil {
		c.Conf.Collections = map[string]CollectionConf{
			"notes":    {Enabled: true, Federated: true, Type: "Note"},
			"articles": {Enabled: true, Federated: true, Type: "Article"},
			"polls":    {Enabled: true, Federated: true, Type: "Question"},
		}
	}
}

// Domain returns the public hostname local actors and objects are
// addressed under.
func (c *AppConfig) Domain() string {
	if c.Conf.SslDomain != "" {
		return c.Conf.SslDomain
	}
	return c.Conf.Host
}

// CollectionForType maps an ActivityPub object type onto a configured
// collection. The second return is false when no collection is
// configured for that type.
func (c *AppConfig) CollectionForType(objectType string) (CollectionConf, bool) {
	for _, col := range c.Conf.Collections {
		if col.Type == objectType {
			return col, true
		}
	}
	return CollectionConf{}, false
}

// IsDevHost reports whether a hostname is configured for relaxed
// transport security. Ports are ignored.
func (c *AppConfig) IsDevHost(host string) bool {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	for _, h := range c.Conf.DevHosts {
		if h == host {
			return true
		}
	}
	return false
}
