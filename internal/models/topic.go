package models

import "time"

// Topic is the canonical, LLM-cleaned record derived from a completed
// QueueItem. It is created exactly once, when its QueueItem transitions
// processing -> completed.
type Topic struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Tags             []string  `json:"tags"`
	Technologies     []string  `json:"technologies"`
	ComplexityLevel  string    `json:"complexity_level"`
	TopicStatusID    int64     `json:"topic_status_id"` // foreign key back to QueueItem.ID (preferred linkage)
	CreatedAt        time.Time `json:"created_at"`
}

// TopicPayload is the subset of Topic fields the LLM Client / Batch
// Processor produce per item; Store.Complete assembles the rest
// (ID, TopicStatusID, CreatedAt) before persisting.
type TopicPayload struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	Technologies    []string `json:"technologies"`
	ComplexityLevel string   `json:"complexity_level"`
}
