package dms

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type DatabaseType int

const (
	// Standalone mode keeps submission state in an in-process store.
	// It is appropriate for development and single-process deployments.
	Standalone DatabaseType = iota
	// Clustered mode keeps submission state in Cassandra with a Redis read
	// cache, allowing multiple service instances to share the work queues.
	Clustered
)

// RedisConfig holds configuration for connecting to a Redis server or cluster.
type RedisConfig struct {
	// Address is the host:port of the Redis server/cluster.
	Address string `json:"address"`
	// Password is the password used to authenticate.
	Password string `json:"password"`
	// DB is the database index to select.
	DB int `json:"db"`
}

// CassandraConfig holds the Cassandra cluster settings for the item repository.
type CassandraConfig struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string `json:"cluster_hosts"`
	// Keyspace is the keyspace used for DMS tables.
	Keyspace string `json:"keyspace"`
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string `json:"replication_clause"`
}

// ObjectStoreConfig holds the S3 (or S3-compatible, e.g. minio) settings.
type ObjectStoreConfig struct {
	// HostEndpointUrl e.g. "http://127.0.0.1:9000". Empty means AWS default endpoints.
	HostEndpointUrl string `json:"host_endpoint_url"`
	// Region e.g. "us-east-1".
	Region   string `json:"region"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Bucket holds every submission zip, keyed "{correlationId}.zip".
	Bucket string `json:"bucket"`
}

// WorkerConfig is the schedule of one periodic worker.
type WorkerConfig struct {
	Interval time.Duration `json:"interval"`
}

// WorkersConfig groups the three periodic workers.
type WorkersConfig struct {
	// InitialDelay applies to every worker's first tick.
	InitialDelay time.Duration `json:"initial_delay"`
	SdesWorker   WorkerConfig  `json:"sdes_worker"`
	// ProcessedItemWorker drains Processed and Failed items into client callbacks.
	ProcessedItemWorker WorkerConfig `json:"processed_item_worker"`
	// FailedItemWorker promotes callback-exhausted items to CallbackFailed.
	FailedItemWorker struct {
		Interval time.Duration `json:"interval"`
		// MaxFailures is the callback attempt budget before CallbackFailed.
		MaxFailures int `json:"max_failures"`
	} `json:"failed_item_worker"`
}

// SdesConfig holds the file-ready notification settings for the downstream SDES.
type SdesConfig struct {
	// BaseUrl of the SDES notification endpoint.
	BaseUrl string `json:"base_url"`
	// InformationType tags the notification payload.
	InformationType string `json:"information_type"`
	// RecipientOrSender identifies this service to SDES.
	RecipientOrSender string `json:"recipient_or_sender"`
	// ObjectStoreLocationPrefix prefixes object keys to form the advertised file location.
	ObjectStoreLocationPrefix string `json:"object_store_location_prefix"`
	// CallTimeout bounds each outbound SDES HTTP call.
	CallTimeout time.Duration `json:"call_timeout"`
}

// Config is the service configuration. Load it with LoadConfig and validate
// with Validate before wiring anything; missing required entries are fatal.
type Config struct {
	// Type selects Standalone or Clustered state management.
	Type DatabaseType `json:"type"`

	// ListenAddress for the HTTP REST API, e.g. "localhost:8080".
	ListenAddress string `json:"listen_address"`

	// AllowLocalhostCallbacks permits localhost callback URLs (dev only);
	// otherwise callback hosts must end in ".mdtp".
	AllowLocalhostCallbacks bool `json:"allow_localhost_callbacks"`

	// LockTTL is the maximum time a worker lease may be held before another
	// worker may reclaim the item. Must exceed worst-case SDES/callback latency.
	LockTTL time.Duration `json:"lock_ttl"`

	// CallbackTimeout bounds each outbound client callback HTTP call.
	CallbackTimeout time.Duration `json:"callback_timeout"`

	// InternalAuthToken authenticates service-to-service calls on the
	// /sdes-callback endpoint and is accepted on the submit endpoint.
	InternalAuthToken string `json:"internal_auth_token"`

	Workers     WorkersConfig     `json:"workers"`
	Sdes        SdesConfig        `json:"services_sdes"`
	Cassandra   CassandraConfig   `json:"cassandra"`
	Redis       RedisConfig       `json:"redis"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
}

const DefaultLockTTL = 30 * time.Second

// LoadConfig reads a JSON config file into a Config.
func LoadConfig(filename string) (Config, error) {
	var c Config
	ba, err := os.ReadFile(filename)
	if err != nil {
		return c, Error{Code: Fatal, Err: fmt.Errorf("can't read config file %s, details: %w", filename, err)}
	}
	if err := json.Unmarshal(ba, &c); err != nil {
		return c, Error{Code: Fatal, Err: fmt.Errorf("can't parse config file %s, details: %w", filename, err)}
	}
	return c, nil
}

// Validate applies defaults and fails fast on missing required entries.
func (c *Config) Validate() error {
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.ListenAddress == "" {
		c.ListenAddress = "localhost:8080"
	}
	if c.Workers.SdesWorker.Interval <= 0 ||
		c.Workers.ProcessedItemWorker.Interval <= 0 ||
		c.Workers.FailedItemWorker.Interval <= 0 {
		return Error{Code: Fatal, Err: fmt.Errorf("workers.*.interval entries are required and must be > 0")}
	}
	if c.Workers.FailedItemWorker.MaxFailures <= 0 {
		return Error{Code: Fatal, Err: fmt.Errorf("workers.failed_item_worker.max_failures is required and must be > 0")}
	}
	if c.InternalAuthToken == "" {
		return Error{Code: Fatal, Err: fmt.Errorf("internal_auth_token is required")}
	}
	if c.Sdes.InformationType == "" || c.Sdes.RecipientOrSender == "" {
		return Error{Code: Fatal, Err: fmt.Errorf("services_sdes.information_type and services_sdes.recipient_or_sender are required")}
	}
	if c.Sdes.CallTimeout <= 0 {
		c.Sdes.CallTimeout = 30 * time.Second
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = 30 * time.Second
	}
	if c.Type == Clustered {
		if len(c.Cassandra.ClusterHosts) == 0 {
			return Error{Code: Fatal, Err: fmt.Errorf("cassandra.cluster_hosts is required in Clustered mode")}
		}
		if c.ObjectStore.Bucket == "" {
			return Error{Code: Fatal, Err: fmt.Errorf("object_store.bucket is required in Clustered mode")}
		}
	}
	return nil
}
