package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTimeRange = errors.New("end time must be after start time")
	ErrNegativeAmount   = errors.New("amount cannot be negative")
)

type TimeRange struct {
	start time.Time
	end   time.Time
}

func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !end.After(start) {
		return TimeRange{}, ErrInvalidTimeRange
	}
	return TimeRange{start: start, end: end}, nil
}

func (tr TimeRange) Start() time.Time {
	return tr.start
}

func (tr TimeRange) End() time.Time {
	return tr.end
}

func (tr TimeRange) Duration() time.Duration {
	return tr.end.Sub(tr.start)
}

// Money is an amount in whole Japanese yen.
type Money struct {
	yen int64
}

func NewMoney(yen int64) (Money, error) {
	if yen < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{yen: yen}, nil
}

func (m Money) Yen() int64 {
	return m.yen
}

// Percent returns the given percentage of the amount, rounded down.
func (m Money) Percent(p int64) Money {
	return Money{yen: m.yen * p / 100}
}

// SlotCapacityError names the time slot that could not be reserved so the
// caller can offer alternatives.
type SlotCapacityError struct {
	SlotID uuid.UUID
}

func (e *SlotCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity for time slot %s", e.SlotID)
}

type IdempotencyKey struct {
	value string
}

var ErrEmptyIdempotencyKey = errors.New("idempotency key must not be empty")

func NewIdempotencyKey(value string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return IdempotencyKey{}, ErrEmptyIdempotencyKey
	}
	return IdempotencyKey{value: trimmed}, nil
}

func (k IdempotencyKey) String() string {
	return k.value
}
