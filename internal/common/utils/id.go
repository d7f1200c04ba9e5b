package utils

import (
	"github.com/lucsky/cuid"
)

// NewJobID returns a collision-resistant ID for a delivery job.
func NewJobID() string {
	return "job-" + cuid.New()
}

// NewRecordID returns a collision-resistant ID for a delivery record.
func NewRecordID() string {
	return "rec-" + cuid.New()
}
