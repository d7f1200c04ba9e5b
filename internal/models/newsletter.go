// Package models holds the domain types shared across the delivery
// subsystem.
package models

import "time"

// Newsletter is a published content item, consumed read-only by
// delivery content generation.
type Newsletter struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Excerpt     string    `json:"excerpt,omitempty"`
	Content     string    `json:"content"` // rendered HTML body
	Thumbnail   string    `json:"thumbnail,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	AuthorName  string    `json:"author_name,omitempty"`
	ReadTime    int       `json:"read_time,omitempty"` // minutes
}

// Recipient identifies one delivery target.
type Recipient struct {
	Address      string `json:"address"`
	Name         string `json:"name,omitempty"`
	SubscriberID string `json:"subscriber_id,omitempty"`
}

// SubscriberStatus is the lifecycle state of a subscriber account.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
)
