package domain

import "time"

// SKUTotal is one row of a chunk's content preview.
type SKUTotal struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Chunk is one bounded print/export group of a batch plan.
type Chunk struct {
	Index      int        `json:"chunk_index"`
	OrderCount int        `json:"order_count"`
	OrderIDs   []string   `json:"order_ids"`
	SKUPreview []SKUTotal `json:"sku_preview"`
}

// BatchPlan fixes chunk membership under an opaque handle so that later
// downloads map to the same orders regardless of concurrent mutations.
type BatchPlan struct {
	Handle       string    `json:"handle"`
	MaxPerChunk  int       `json:"max_per_chunk"`
	TotalOrders  int       `json:"total_orders"`
	TotalMatched int       `json:"total_matched"`
	Truncated    bool      `json:"truncated"`
	NotFound     []string  `json:"not_found,omitempty"`
	Chunks       []Chunk   `json:"chunks"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chunk returns the chunk at index.
func (p *BatchPlan) Chunk(index int) (Chunk, error) {
	if index < 0 || index >= len(p.Chunks) {
		return Chunk{}, NotFound(ReasonChunkOutOfRange, "chunk %d out of range [0,%d)", index, len(p.Chunks))
	}
	return p.Chunks[index], nil
}
