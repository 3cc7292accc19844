package data

import "fmt"

// DataSource identifies the external platform an entity was scraped from.
// The integer values are wire-stable: they key the compressed index and must
// never be renumbered.
type DataSource int32

const (
	DataSourceReddit DataSource = 1
	DataSourceX      DataSource = 2
)

// Valid reports whether s is a known source.
func (s DataSource) Valid() bool {
	switch s {
	case DataSourceReddit, DataSourceX:
		return true
	}
	return false
}

func (s DataSource) String() string {
	switch s {
	case DataSourceReddit:
		return "REDDIT"
	case DataSourceX:
		return "X"
	}
	return fmt.Sprintf("DataSource(%d)", int32(s))
}

// AllDataSources lists every known source, in wire-value order.
func AllDataSources() []DataSource {
	return []DataSource{DataSourceReddit, DataSourceX}
}
