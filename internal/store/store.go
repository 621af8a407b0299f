// Package store holds the token/ledger state behind the gateway: media
// references keyed by opaque tokens, sections, the credit ledger, payment
// requests and engagement counters. Two backends implement the same
// interface; Memory for single-process runs, Redis for durable ones.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Access tiers a media reference can carry. Gating on the tier is the
// caller's business; the store only records it.
const (
	AccessNormal  = "normal"
	AccessPremium = "premium"
)

// Payment request lifecycle states.
type PayStatus string

const (
	PayPending   PayStatus = "pending"
	PaySubmitted PayStatus = "submitted"
	PayApproved  PayStatus = "approved"
	PayRejected  PayStatus = "rejected"
	PayCancelled PayStatus = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s PayStatus) Terminal() bool {
	switch s {
	case PayApproved, PayRejected, PayCancelled:
		return true
	}
	return false
}

// canTransition encodes the legal lifecycle: pending may be submitted,
// and anything not yet terminal may be approved, rejected or cancelled.
func canTransition(from, to PayStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case PaySubmitted:
		return from == PayPending
	case PayApproved, PayRejected, PayCancelled:
		return from == PayPending || from == PaySubmitted
	}
	return false
}

// Reaction is a user's tri-state vote on a media item.
type Reaction int

const (
	ReactionNone    Reaction = 0
	ReactionLike    Reaction = 1
	ReactionDislike Reaction = -1
)

var (
	ErrNotFound            = errors.New("store: not found")
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	ErrAlreadyFinalized    = errors.New("store: payment already finalized")
	ErrBadTransition       = errors.New("store: illegal payment transition")
	ErrSectionExists       = errors.New("store: section already exists")
)

// MediaRef is everything the gateway remembers about one shared media
// item. ChatID/MessageID are the primary origin locator; FileID is the
// stored fallback used when the origin cannot re-resolve the coords.
// FileSize is nil when the origin never reported one.
type MediaRef struct {
	ChatID       int64      `json:"chat_id"`
	MessageID    int64      `json:"message_id"`
	FileID       string     `json:"file_id"`
	FileUniqueID string     `json:"file_unique_id,omitempty"`
	FileName     string     `json:"file_name,omitempty"`
	MimeType     string     `json:"mime_type,omitempty"`
	FileSize     *int64     `json:"file_size,omitempty"`
	MediaType    string     `json:"media_type,omitempty"`
	Access       string     `json:"access"`
	CreatedAt    time.Time  `json:"created_at"`
	SectionID    string     `json:"section_id,omitempty"`
	SectionName  string     `json:"section_name,omitempty"`
}

// Entry pairs a token with its reference in listing results.
type Entry struct {
	Token string
	Ref   MediaRef
}

type Section struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PaymentRequest tracks one top-up through its lifecycle. Ids come from a
// monotonic per-backend sequence. PromptChatID/PromptMessageID remember
// where the payment prompt was shown so it can be edited later.
type PaymentRequest struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	AmountINR       float64   `json:"amount_inr"`
	Credits         int64     `json:"credits"`
	Status          PayStatus `json:"status"`
	Note            string    `json:"note,omitempty"`
	AdminID         int64     `json:"admin_id,omitempty"`
	PromptChatID    int64     `json:"prompt_chat_id,omitempty"`
	PromptMessageID int64     `json:"prompt_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Balance is one row of the credit ledger listing.
type Balance struct {
	UserID  int64
	Credits int64
}

// PayPlan is the advertised top-up offer.
type PayPlan struct {
	Price float64 `json:"price"`
	Text  string  `json:"text"`
}

const DefaultPlanPrice = 0.35

const DefaultPlanText = "1 credit = 1 stream. Pay via UPI and reply with the UTR number."

// Store is the full token/ledger contract. Lookups for absent keys report
// not-found through return values; errors mean the backend itself failed.
type Store interface {
	// Tokens. Put overwrites idempotently and records the token on the
	// recency history and its section list. ttl <= 0 means no expiry.
	Put(ctx context.Context, token string, ref MediaRef, ttl time.Duration) error
	Get(ctx context.Context, token string) (MediaRef, bool, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	ListSection(ctx context.Context, sectionID string, limit int) ([]Entry, error)

	// Sections. CreateSection registers the normalized name atomically;
	// a duplicate (after trimming, whitespace-collapsing and lowering)
	// fails with ErrSectionExists.
	CreateSection(ctx context.Context, name string) (Section, error)
	DeleteSection(ctx context.Context, name string) (bool, error)
	Sections(ctx context.Context) ([]Section, error)
	SetCurrentSection(ctx context.Context, sec Section) error
	ClearCurrentSection(ctx context.Context) error
	CurrentSection(ctx context.Context) (Section, bool, error)

	// Credit ledger. ChargeCredits is an atomic check-and-decrement; it
	// reports ok=false and the untouched balance when funds are short.
	// n <= 0 charges nothing and succeeds.
	Credits(ctx context.Context, userID int64) (int64, error)
	AddCredits(ctx context.Context, userID, n int64) (int64, error)
	ChargeCredits(ctx context.Context, userID, n int64) (bool, int64, error)
	CreditBalances(ctx context.Context, limit int) ([]Balance, error)

	// Payments. SetPaymentStatus validates the lifecycle; once a request
	// is terminal every further call fails with ErrAlreadyFinalized and
	// has no side effect. The approved transition grants the request's
	// credits to the user inside the same critical section.
	CreatePaymentRequest(ctx context.Context, userID int64, amount float64, credits int64) (PaymentRequest, error)
	PaymentRequest(ctx context.Context, id int64) (PaymentRequest, bool, error)
	SetPaymentStatus(ctx context.Context, id int64, status PayStatus, note string, adminID int64) (PaymentRequest, error)
	SetPaymentPrompt(ctx context.Context, id, chatID, messageID int64) error
	ListPaymentRequests(ctx context.Context, status PayStatus, limit int) ([]PaymentRequest, error)

	// Payment-flow scratch state.
	PayPlan(ctx context.Context) (PayPlan, error)
	SetPayPlan(ctx context.Context, plan PayPlan) error
	UPIID(ctx context.Context) (string, error)
	SetUPIID(ctx context.Context, id string) error
	MarkPendingUTR(ctx context.Context, userID, paymentID int64, ttl time.Duration) error
	PendingUTR(ctx context.Context, userID int64) (int64, bool, error)
	ClearPendingUTR(ctx context.Context, userID int64) error

	// Engagement.
	IncrementView(ctx context.Context, token, fingerprint string) (total, unique int64, err error)
	Reactions(ctx context.Context, token string, userID int64) (likes, dislikes int64, mine Reaction, err error)
	SetReaction(ctx context.Context, token string, userID int64, choice Reaction) (likes, dislikes int64, mine Reaction, err error)
}

// NormalizeSectionName trims, collapses inner whitespace and lowercases,
// so "Movies" and "  movies " register as the same section.
func NormalizeSectionName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Slugify derives the section id from a normalized name: spaces become
// dashes and anything outside [a-z0-9-] is dropped.
func Slugify(normalized string) string {
	var b strings.Builder
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}
