package listings

import (
	"errors"
	"fmt"
)

// Kind tags a ledger error. Every guard failure maps to exactly one kind.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindAlreadyBidOn
	KindNoBidToAccept
	KindNoConsumerToSellTo
	KindInsufficientFundsInEscrow
	KindInvalidDisputeResolution
	KindOverflow
	KindAlreadySettled
	KindInvalidRating
)

var kindNames = map[Kind]string{
	KindNotFound:                  "NotFound",
	KindAlreadyBidOn:              "AlreadyBidOn",
	KindNoBidToAccept:             "NoBidToAccept",
	KindNoConsumerToSellTo:        "NoConsumerToSellTo",
	KindInsufficientFundsInEscrow: "InsufficientFundsInEscrow",
	KindInvalidDisputeResolution:  "InvalidDisputeResolution",
	KindOverflow:                  "Overflow",
	KindAlreadySettled:            "AlreadySettled",
	KindInvalidRating:             "InvalidRating",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the single error type returned for caller-visible ledger failures.
type Error struct {
	Kind Kind
	ID   uint64 // listing id, 0 when not applicable
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	switch e.Kind {
	case KindNotFound:
		msg = fmt.Sprintf("listing %d not found", e.ID)
	case KindAlreadyBidOn:
		msg = "product already bid on"
	case KindNoBidToAccept:
		msg = "no bid to accept"
	case KindNoConsumerToSellTo:
		msg = "no consumer to sell to"
	case KindInsufficientFundsInEscrow:
		msg = "insufficient funds in escrow"
	case KindInvalidDisputeResolution:
		msg = "invalid dispute resolution"
	case KindOverflow:
		msg = "arithmetic overflow"
	case KindAlreadySettled:
		msg = fmt.Sprintf("listing %d already settled", e.ID)
	case KindInvalidRating:
		msg = "rating out of range"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrNotFound) holds for any id or op.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound                  = &Error{Kind: KindNotFound}
	ErrAlreadyBidOn              = &Error{Kind: KindAlreadyBidOn}
	ErrNoBidToAccept             = &Error{Kind: KindNoBidToAccept}
	ErrNoConsumerToSellTo        = &Error{Kind: KindNoConsumerToSellTo}
	ErrInsufficientFundsInEscrow = &Error{Kind: KindInsufficientFundsInEscrow}
	ErrInvalidDisputeResolution  = &Error{Kind: KindInvalidDisputeResolution}
	ErrOverflow                  = &Error{Kind: KindOverflow}
	ErrAlreadySettled            = &Error{Kind: KindAlreadySettled}
	ErrInvalidRating             = &Error{Kind: KindInvalidRating}
)

// KindOf returns the kind carried by err, or 0 for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newErr(kind Kind, op string, id uint64) *Error {
	return &Error{Kind: kind, Op: op, ID: id}
}
