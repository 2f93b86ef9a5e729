package models

import "time"

// Answer is a reply posted to a question.
type Answer struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"qid"`
	Text       string    `json:"text"`
	AnsBy      string    `json:"ans_by"`
	AnsweredAt time.Time `json:"ans_date_time"`
}
