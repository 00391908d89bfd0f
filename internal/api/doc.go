// Package api exposes the REST surface of the assistant daemon: submitting
// messages, listing and resolving pending approvals, and managing long-term
// memory facts.
package api
