package letsencrypt

// State is a step of the per-host issuance state machine.
type State string

const (
	StateNoOrder               State = "no_order"
	StateOrderCreated          State = "order_created"
	StateAuthorizationsPending State = "authorizations_pending"
	StateChallengeServing      State = "challenge_serving"
	StateChallengeValidating   State = "challenge_validating"
	StateChallengeValid        State = "challenge_valid"
	StateOrderFinalizing       State = "order_finalizing"
	StateOrderValid            State = "order_valid"
	StateBundleUploaded        State = "bundle_uploaded"
	StateInvalid               State = "invalid"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateBundleUploaded || s == StateInvalid
}

// StateObserver is notified of every transition of every issuance. It is
// called from the issuing goroutine and must not block.
type StateObserver func(host string, from, to State)
