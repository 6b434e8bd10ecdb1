// Package netcheck answers whether the local network is usable.
//
// Reachability is a short TCP connect to a well-known LAN host (normally the
// router on port 80). Nothing is cached: every call dials.
//
// WaitUntilReachable blocks until the host answers, printing a progress
// indicator of five dots then five dashes, repeating, once per attempt.
package netcheck
