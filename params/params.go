// Package params holds the protocol constants shared by every subsystem:
// wallets, the tangle, the scheduler, and the peer wire format.
package params

import "time"

// Wallet / address parameters.
const (
	// AddressPrefix is prepended to the base58-encoded compressed public
	// key to form an address.
	AddressPrefix = "T"
)

// Currency parameters.
const (
	// MinSendAmount is the minimum amount of coins that can be sent in a
	// single transaction.
	MinSendAmount = 1
)

// Message parameters.
const (
	// MaxTipAge is the maximum age before an unapproved tip is purged.
	MaxTipAge = 24 * time.Hour

	// MaxParents is the maximum amount of parents a message can have.
	MaxParents = 8

	// MinStrongParents is the minimum amount of strong parents a message
	// must have.
	MinStrongParents = 1

	// MaxMessageSize is the maximum serialized size of a message, in
	// bytes.
	MaxMessageSize = 4096

	// MaxParentAge is the maximum age a parent can be older than a child
	// message.
	MaxParentAge = 1 * time.Hour
)

// Branch parameters.
const (
	// MainBranchThreshold is the fraction by which a branch's approval
	// weight must exceed the current main branch's to take over as main.
	MainBranchThreshold = 0.5

	// FinalityScore is the approval weight at which a branch (or
	// message) is considered final.
	FinalityScore = 4
)

// Scheduler parameters.
const (
	// DefaultSchedulingRate is how often the scheduler tries to admit a
	// message.
	DefaultSchedulingRate = 50 * time.Millisecond

	// PendingThreshold is the reputation-weighted vote threshold at
	// which a pending message's missing parent is considered resolved.
	PendingThreshold = 3

	// PendingWindow is how long the scheduler waits for votes on a
	// missing parent before deciding from whatever votes arrived.
	PendingWindow = 4 * time.Second

	// RequestChildrenAfter is how old a pending message must be before
	// the node falls back to requesting the children of its own tips
	// instead of just the message's unknown parents.
	RequestChildrenAfter = 30 * time.Second
)

// Request layer parameters.
const (
	// MaxRequestSize is the maximum serialized size of a request
	// envelope, in bytes.
	MaxRequestSize = 16384

	// MaxTipsRequested caps how many hashes a single GetMsgs request may
	// ask for; the responder samples down to this many.
	MaxTipsRequested = 64
)

// Proof-of-work parameters.
const (
	// MaxNonce bounds the nonce search space.
	MaxNonce = 1 << 32

	// BaseDifficulty is the difficulty floor applied to every issuer.
	BaseDifficulty = 10

	// Gamma scales the per-issuer difficulty surcharge by recent message
	// count.
	Gamma = 0.2

	// TimeWindow is the trailing window, in seconds, over which an
	// issuer's recent message count is measured for difficulty scaling.
	TimeWindow = 60
)

// Invalid-message pool parameters.
const (
	// InvalidPoolPurgeTime is how long an invalid-message hash may go
	// unaccessed before it is evicted.
	InvalidPoolPurgeTime = 1 * time.Hour

	// InvalidPoolSize caps the number of entries retained in the
	// invalid-message pool; the oldest are evicted first past this size.
	InvalidPoolSize = 10000
)

// Peer runtime parameters.
const (
	// DefaultMaxConnections caps inbound connections accepted by a node.
	DefaultMaxConnections = 30

	// ConnectionReadTimeout bounds how long a peer connection blocks on
	// a socket read before polling for cancellation.
	ConnectionReadTimeout = 10 * time.Second
)
