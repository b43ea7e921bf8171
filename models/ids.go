package models

// Nominal identifier types. Keeping these distinct (rather than plain
// string) stops an ExpertID from being passed where a GuestID is
// expected — the compiler catches the mixup instead of a runtime bug.

type ExpertID string

type EventID string

type GuestID string

type ReservationID string

type MeetingID string

type TransferID string

// PaymentAccountID is the expert's payout-account id at the payment
// provider (e.g. a Stripe connected-account id).
type PaymentAccountID string

// SessionID is the payment provider's session/checkout identifier.
type SessionID string
