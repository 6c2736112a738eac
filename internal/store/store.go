// Package store reads and writes praise and profile rows.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Praise struct {
	ID         string    `json:"id"`
	ReceiverID string    `json:"receiver_id"`
	SenderID   *string   `json:"sender_id"`
	SenderName *string   `json:"sender_name"`
	Keyword    string    `json:"keyword"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`

	// ReceiverNickname is only filled for sent praises.
	ReceiverNickname *string `json:"-"`
}

// NewPraise is the insertable part of a praise row.
type NewPraise struct {
	ReceiverID string  `json:"receiver_id"`
	SenderID   *string `json:"sender_id"`
	SenderName *string `json:"sender_name"`
	Keyword    string  `json:"keyword"`
	Message    string  `json:"message"`
}

type Profile struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

type Store interface {
	// Received lists the praises addressed to receiverID, newest first.
	Received(ctx context.Context, receiverID string) ([]Praise, error)
	// Sent lists the praises written by senderID, newest first, with the
	// receiver's nickname when known.
	Sent(ctx context.Context, senderID string) ([]Praise, error)
	Insert(ctx context.Context, p *NewPraise) error
	// Profile returns ErrNotFound when userID has no profile row yet.
	Profile(ctx context.Context, userID string) (*Profile, error)
}
