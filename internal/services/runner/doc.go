// Package runner invokes the external reasoning-tool CLI.
//
// One Invoke call is one child process: spawn with the prompt as an
// argument, race completion against a timeout, and classify the outcome
// into a typed Result. Invoke never returns a Go error — every failure
// mode (timeout, rate limit, missing binary, tool error) is a status on
// the Result so callers branch on status, not on error type.
//
// While a process runs it is registered under the request's correlation
// id, which backs Cancel and IsRunning. Registration is released on every
// exit path via defer.
package runner
