package sms

import (
	"time"
	"unicode/utf8"
)

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusScheduled Status = "SCHEDULED"
	// StatusClaimed is the transient reservation between the scheduler claim
	// and the dispatcher commit. Never returned by the API.
	StatusClaimed   Status = "CLAIMED"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Weight orders priorities for the claim query; higher dispatches first.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

func (p Priority) Valid() bool { return p.Weight() >= 0 }

type RetryStrategy string

const (
	RetryExponential RetryStrategy = "EXP"
	RetryLinear      RetryStrategy = "LINEAR"
	RetryFixed       RetryStrategy = "FIXED"
)

func (r RetryStrategy) Valid() bool {
	return r == RetryExponential || r == RetryLinear || r == RetryFixed
}

const (
	MaxContentLength  = 1600
	MaxContentParts   = 10
	DefaultMaxRetries = 3
	MaxRetriesCeiling = 10
)

type Message struct {
	ID              int64         `json:"id" db:"id"`
	PhoneNumber     string        `json:"phoneNumber" db:"phone_number"`
	Content         string        `json:"content" db:"content"`
	Priority        Priority      `json:"priority" db:"priority"`
	RetryStrategy   RetryStrategy `json:"retryStrategy" db:"retry_strategy"`
	Status          Status        `json:"status" db:"status"`
	CreatedAt       time.Time     `json:"createdAt" db:"created_at"`
	ScheduledAt     *time.Time    `json:"scheduledAt,omitempty" db:"scheduled_at"`
	SentAt          *time.Time    `json:"sentAt,omitempty" db:"sent_at"`
	RetryCount      int           `json:"retryCount" db:"retry_count"`
	MaxRetries      int           `json:"maxRetries" db:"max_retries"`
	LastError       *string       `json:"lastError,omitempty" db:"last_error"`
	QueueSeq        int64         `json:"queueSeq" db:"queue_seq"`
	CancelRequested bool          `json:"-" db:"cancel_requested"`
}

// DueAt is the ordering key among eligible rows: the scheduled time when one
// exists, insertion time otherwise.
func (m *Message) DueAt() time.Time {
	if m.ScheduledAt != nil {
		return *m.ScheduledAt
	}
	return m.CreatedAt
}

// CalculateParts returns the number of SMS segments content occupies,
// using GSM-7 limits when the text fits that alphabet and UCS-2 otherwise.
func CalculateParts(content string) int {
	length := utf8.RuneCountInString(content)
	if length == 0 {
		return 0
	}

	if isGSM7Compatible(content) {
		if length <= 160 {
			return 1
		}
		return (length-1)/153 + 1
	}
	if length <= 70 {
		return 1
	}
	return (length-1)/67 + 1
}

func isGSM7Compatible(text string) bool {
	for _, r := range text {
		if r > 127 && !isGSMExtendedChar(r) {
			return false
		}
	}
	return true
}

func isGSMExtendedChar(r rune) bool {
	switch r {
	case '^', '{', '}', '\\', '[', '~', ']', '|', '€':
		return true
	}
	return false
}
