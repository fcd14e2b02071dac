// Package sample is a small CRUD resource that gives the audit pipeline
// realistic traffic to record.
package sample

import (
	"strings"
	"time"
)

// Item is one sample record. IDs are assigned by the store.
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ItemRequest is the body accepted by create and update.
type ItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Normalize trims surrounding whitespace.
func (r *ItemRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
}
