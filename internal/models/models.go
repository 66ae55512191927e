package models

import "time"

// MediaRecord links a display name to its cover image and audio blobs
type MediaRecord struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	PicID     string    `json:"picId"`
	AudioID   string    `json:"audioId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MediaItem is the listing view of a MediaRecord with download URLs
type MediaItem struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	PicURL   string `json:"picUrl"`
	AudioURL string `json:"audioUrl"`
}

// Blob represents stored blob metadata
type Blob struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk represents one stored piece of a blob
type Chunk struct {
	BlobID     string `json:"blob_id"`
	OrderIndex int    `json:"order_index"`
	Hash       string `json:"hash"`
	ObjectKey  string `json:"object_key"`
	Size       int64  `json:"size"`
}

// Manifest is a blob together with its ordered chunks
type Manifest struct {
	Blob   Blob     `json:"blob"`
	Chunks []*Chunk `json:"chunks"`
}

// ChunkData holds chunk information during upload
type ChunkData struct {
	Data       []byte
	OrderIndex int
	Hash       string
	Size       int64
}

// Credential maps a shared key to a display name
type Credential struct {
	Key      string `json:"-"`
	Username string `json:"username"`
}
