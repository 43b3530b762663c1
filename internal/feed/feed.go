package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the literal layout used by the status feed.
const TimestampLayout = "2006-01-02 15:04:05"

// NoMessagesPayload is returned by the feed before a student has any record.
const NoMessagesPayload = "No messages yet"

const fieldSeparator = "|=|"

var (
	// ErrFeed wraps transport and HTTP failures while fetching a status.
	ErrFeed = errors.New("status feed unavailable")
	// ErrDecode marks a malformed payload or an unrecognized status code.
	ErrDecode = errors.New("malformed status payload")
	// ErrTimestamp marks an event timestamp that does not match TimestampLayout.
	ErrTimestamp = errors.New("invalid event timestamp")
)

// Code is a student status reported by the feed.
type Code int

const (
	CodeNeedsUpdate         Code = 0
	CodeAbsent              Code = 1
	CodeIdentityUnconfirmed Code = 2
	CodeSleeping            Code = 3
	CodeNotLooking          Code = 4
	CodeLooking             Code = 5
)

var codeNames = map[Code]string{
	CodeNeedsUpdate:         "NEEDS_UPDATE",
	CodeAbsent:              "ABSENT",
	CodeIdentityUnconfirmed: "IDENTITY_UNCONFIRMED",
	CodeSleeping:            "SLEEPING",
	CodeNotLooking:          "NOT_LOOKING",
	CodeLooking:             "LOOKING",
}

// Valid reports whether c is one of the known status codes.
func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// ParseCode converts the code field of a payload. The feed reports absence
// either as 1 or as the literal "absent".
func ParseCode(raw string) (Code, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "absent") {
		return CodeAbsent, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: status code %q", ErrDecode, raw)
	}
	code := Code(n)
	if !code.Valid() {
		return 0, fmt.Errorf("%w: unknown status code %d", ErrDecode, n)
	}
	return code, nil
}

// ParseTimestamp parses an event timestamp in loc. A nil loc means time.Local.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrTimestamp, raw)
	}
	return ts, nil
}

// StatusEvent is one decoded status record.
type StatusEvent struct {
	Code      Code
	Timestamp time.Time
	Raw       string
}

// Kind tags a Result.
type Kind int

const (
	KindNoMessages Kind = iota
	KindEvent
)

// Result is a decoded feed response. Event is only set for KindEvent.
type Result struct {
	Kind  Kind
	Event StatusEvent
}

// Parse decodes a raw feed payload.
func Parse(payload string, loc *time.Location) (Result, error) {
	payload = strings.TrimSpace(payload)
	if payload == NoMessagesPayload {
		return Result{Kind: KindNoMessages}, nil
	}

	parts := strings.Split(payload, fieldSeparator)
	if len(parts) != 2 {
		return Result{}, fmt.Errorf("%w: %q", ErrDecode, payload)
	}
	code, err := ParseCode(parts[0])
	if err != nil {
		return Result{}, err
	}
	ts, err := ParseTimestamp(parts[1], loc)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Kind:  KindEvent,
		Event: StatusEvent{Code: code, Timestamp: ts, Raw: payload},
	}, nil
}

// Client fetches the latest status record of one student.
type Client interface {
	Fetch(ctx context.Context, nationalCode, schoolID, classID string) (Result, error)
}
