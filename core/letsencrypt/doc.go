// Package letsencrypt keeps a TLS certificate valid for every host in the
// fact store using ACME HTTP-01.
//
// The runtime itself answers the CA's validation requests: for every
// challenge the Manager writes the key authorization to a file in the
// challenge directory and asks the reconciliation engine to install a
// priority route serving that file on the challenge listeners (*:80 by
// default). The route is retracted whatever the outcome of the validation.
//
// # Types
//
//   - Manager: issuance, hydration and scheduling
//   - Config: account contact, directory and challenge directory
//   - ChallengeStore: challenge response files
//   - AccountKeyStore: FileKeyStore or RedisKeyStore
//   - Report: per-host outcome of a Hydrate run
//
// # State machine
//
// Each RequestCertificate call walks a single issuance through
//
//	no_order -> order_created -> authorizations_pending -> challenge_serving
//	  -> challenge_validating -> challenge_valid -> order_finalizing
//	  -> order_valid -> bundle_uploaded
//
// and ends in invalid when an authorization, a challenge or the order
// fails. Register a StateObserver with WithObserver to follow transitions.
//
// # Errors
//
//   - ErrNoHTTP01Challenge: the CA offered no http-01 challenge
//   - ErrChallengeInvalid: the CA could not validate the response
//   - ErrAuthorizationInvalid: the authorization did not become valid
//   - ErrOrderInvalid: the order failed or could not be finalized
//   - ErrPollAttemptsExhausted: a resource did not settle in time
//
// # Basic Usage
//
//	mgr, err := letsencrypt.NewManager(letsencrypt.Config{
//	    Email:        "admin@example.com",
//	    ChallengeDir: "/var/lib/unitctl/challenges",
//	}, engine, certs, store)
//	if err != nil {
//	    return err
//	}
//
//	report, err := mgr.Hydrate(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := report.Err(); err != nil {
//	    log.Warn("some hosts failed", logger.Error(err))
//	}
//
// Run Watch in its own goroutine to hydrate on a schedule until the context
// is cancelled.
package letsencrypt
