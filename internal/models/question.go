package models

import (
	"errors"
	"fmt"
	"time"
)

// Order selects how question listings are sorted.
type Order string

const (
	OrderNewest     Order = "newest"
	OrderUnanswered Order = "unanswered"
	OrderActive     Order = "active"
)

// ErrInvalidOrder is returned for an order other than newest, unanswered or active.
var ErrInvalidOrder = errors.New("invalid order")

// ParseOrder validates a user-supplied order name.
func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case OrderNewest, OrderUnanswered, OrderActive:
		return o, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrder, s)
	}
}

// Question is a user-submitted question. AnswerIDs keeps the order in which
// answers were posted.
type Question struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	AskedBy   string    `json:"asked_by"`
	AskedAt   time.Time `json:"ask_date_time"`
	Views     int       `json:"views"`
	AnswerIDs []string  `json:"answers"`
	TagIDs    []string  `json:"tags"`
}

// TaggedQuestion is a question together with its resolved tags.
type TaggedQuestion struct {
	Question *Question `json:"question"`
	Tags     []*Tag    `json:"tags"`
}
