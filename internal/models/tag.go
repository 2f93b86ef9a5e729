package models

import "time"

// Tag is a keyword label attached to questions. Names are unique ignoring case.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TagCount is a tag with the number of questions carrying it.
type TagCount struct {
	ID    string `json:"tid"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}
