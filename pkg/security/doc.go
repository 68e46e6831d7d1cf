// Package security provides validation, sanitization, and limits for crewrun.
//
// This package includes:
//   - Validation of job ids, task ids and submitted task lists
//   - Error message sanitization before messages are stored or returned
//   - Clamping functions to enforce safe limits on retries and concurrency
//   - Constants defining maximum sizes and counts
package security
