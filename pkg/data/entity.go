package data

import "time"

// DataEntity is one scraped content item, e.g. a single Reddit post. The
// datetime is the entity's creation time in UTC and places the entity in its
// time bucket. ContentSizeBytes must equal len(Content); the mismatch is
// caught during entity validation, not at decode time.
type DataEntity struct {
	URI              string     `json:"uri"`
	Datetime         time.Time  `json:"datetime"`
	Source           DataSource `json:"source"`
	Label            *DataLabel `json:"label,omitempty"`
	Content          []byte     `json:"content"`
	ContentSizeBytes int64      `json:"content_size_bytes"`
}
