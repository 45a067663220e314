package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrMissingEmbedding is returned by Create when an ad has no embedding.
var ErrMissingEmbedding = errors.New("ad has no embedding")

type Kind string

const (
	KindFound Kind = "found"
	KindLost  Kind = "lost"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ContactMode says how the finder hands an item back.
type ContactMode string

const (
	// ContactDrop means the item was left somewhere; ContactInfo names the place.
	ContactDrop ContactMode = "drop"
	// ContactDirect means the finder can be reached; ContactInfo is the channel.
	ContactDirect ContactMode = "contact"
)

// Valid reports whether m is a known contact mode.
func (m ContactMode) Valid() bool {
	return m == ContactDrop || m == ContactDirect
}

// Ad is a persisted item report.
type Ad struct {
	ID          int64       `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	Kind        Kind        `json:"kind"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	PhotoRef    string      `json:"photo_ref,omitempty"`
	LocationKey string      `json:"location_key"`
	PlaceDetail string      `json:"place_detail,omitempty"`
	ContactMode ContactMode `json:"contact_mode"`
	ContactInfo string      `json:"contact_info"`
	Embedding   []byte      `json:"-"` // little-endian float32, see EncodeVector
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	ArchivedAt  time.Time   `json:"archived_at,omitzero"`
}

// Vector decodes the stored embedding blob.
func (a Ad) Vector() ([]float32, error) {
	return DecodeVector(a.Embedding)
}

// NewAd carries the fields supplied when an ad is created. The store assigns
// the id, status and timestamps.
type NewAd struct {
	OwnerID     int64
	Kind        Kind
	Category    string
	Description string
	PhotoRef    string
	LocationKey string
	PlaceDetail string
	ContactMode ContactMode
	ContactInfo string
	Embedding   []float32
}

// AdFilter narrows the moderator listing. Zero values match everything.
type AdFilter struct {
	Status Status
	Kind   Kind
	Limit  int
	Offset int
}

// Stats summarises ad counts by status.
type Stats struct {
	Active   int `json:"active"`
	Archived int `json:"archived"`
	Users    int `json:"users"`
}
