package attachment

import "time"

// Backend tags where an attachment's bytes live.
type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

// Descriptor is the metadata returned for a stored upload.
type Descriptor struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Backend     Backend   `json:"backend"`
	CreatedAt   time.Time `json:"createdAt"`
}
