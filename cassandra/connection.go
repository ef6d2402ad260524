// Package cassandra persists SubmissionItems in Cassandra. Uniqueness and
// lease acquisition use lightweight transactions (LWT); worker selection uses
// a status/last_updated clustered index table.
package cassandra

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

// Config contains configuration for connecting to a Cassandra cluster and DMS keyspace.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string
	// Keyspace is the keyspace used for DMS tables.
	Keyspace string
	// Consistency is the default consistency level for queries.
	Consistency gocql.Consistency
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration
	// Authenticator is used when the cluster requires authentication.
	Authenticator gocql.Authenticator
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session *gocql.Session
	Config
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated reports whether a global Connection has been created.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// OpenConnection returns the existing global Connection or opens a new one
// using the provided config. It creates the keyspace and the three submission
// tables if they don't exist yet; failing that is fatal to startup.
func OpenConnection(config Config) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}
	if config.Keyspace == "" {
		// default keyspace
		config.Keyspace = "dms"
	}
	if config.Consistency == gocql.Any {
		// Defaults to LocalQuorum consistency. You should set it to an appropriate level.
		config.Consistency = gocql.LocalQuorum
	}
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = config.Consistency
	if config.ReplicationClause == "" {
		// Specify an appropriate replication feature.
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		// Clear the authenticator just to be safer, we don't need to keep it hanging around.
		config.Authenticator = nil
	}
	var c = Connection{
		Config: config,
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	if err := s.Query(fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", config.Keyspace, config.ReplicationClause)).Exec(); err != nil {
		return nil, err
	}
	// Main table, unique per (owner, id).
	if err := s.Query(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.submission (owner text, id text, correlation_id text, callback_url text, status text, obj_location text, obj_length bigint, obj_md5 text, obj_last_modified timestamp, failure_reason text, failure_count int, last_updated timestamp, locked_at timestamp, PRIMARY KEY((owner), id));", config.Keyspace)).Exec(); err != nil {
		return nil, err
	}
	// Correlation id uniqueness + reverse lookup for SDES status updates.
	if err := s.Query(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.submission_cid (correlation_id text PRIMARY KEY, owner text, id text);", config.Keyspace)).Exec(); err != nil {
		return nil, err
	}
	// Worker selection index, clustered oldest-first per status.
	if err := s.Query(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.submission_status (status text, last_updated timestamp, correlation_id text, PRIMARY KEY((status), last_updated, correlation_id)) WITH CLUSTERING ORDER BY (last_updated ASC, correlation_id ASC);", config.Keyspace)).Exec(); err != nil {
		return nil, err
	}

	c.Session = s
	connection = &c
	return connection, nil
}

// CloseConnection closes and clears the global connection, if it exists.
func CloseConnection() {
	if connection == nil {
		return
	}
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return
	}
	connection.Session.Close()
	connection = nil
}
