// Package retry runs node attempts under a retry policy.
//
// Four strategies are supported. none runs once. auto retries immediately.
// exponential waits BackoffMs, then doubles, capped at 30s. manual blocks
// on a Gate until the user confirms or cancels.
package retry
