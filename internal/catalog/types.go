package catalog

import "strings"

// ConnectionType names the kind of data source behind a connection.
type ConnectionType string

const (
	ConnectionPostgres   ConnectionType = "postgres"
	ConnectionSQLite     ConnectionType = "sqlite"
	ConnectionFilesystem ConnectionType = "filesystem"
)

// Valid reports whether t is one of the known connection types.
func (t ConnectionType) Valid() bool {
	switch t {
	case ConnectionPostgres, ConnectionSQLite, ConnectionFilesystem:
		return true
	default:
		return false
	}
}

// ConnectionParams holds the type-specific settings of a connection. Only the
// fields relevant to the connection type are set.
type ConnectionParams struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"` //nolint:gosec // G117: data source credentials
	DBName   string `json:"dbname,omitempty"`
	Path     string `json:"path,omitempty"`
	RootDir  string `json:"root_dir,omitempty"`
}

// Connection is a data source configured on the backend.
type Connection struct {
	ID     string           `json:"id"`
	Type   ConnectionType   `json:"type"`
	Name   string           `json:"name"`
	Params ConnectionParams `json:"params"`
}

// Schema is the backend's textual schema dump plus the table names in it.
type Schema struct {
	SchemaText string   `json:"schema_text"`
	Tables     []string `json:"tables"`
}

// RemoveResult is the backend's answer to a connection delete.
type RemoveResult struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// Normalize fills in what the connection form would: an id derived from the
// name and the postgres host/port defaults.
func (c Connection) Normalize() Connection {
	if c.ID == "" {
		c.ID = slug(c.Name)
	}
	if c.Type == ConnectionPostgres {
		if c.Params.Port == 0 {
			c.Params.Port = 5432
		}
		if c.Params.Host == "" {
			c.Params.Host = "localhost"
		}
	}
	return c
}

func slug(name string) string {
	b := []byte(strings.ToLower(name))
	for i, ch := range b {
		if (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') {
			b[i] = '-'
		}
	}
	return string(b)
}
