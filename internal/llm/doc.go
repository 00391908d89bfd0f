// Package llm contains adapters and orchestration logic for invoking large
// language models. It abstracts away provider-specific APIs, normalizes the
// structured output contract, and serializes concurrent requests into a
// strict FIFO queue in front of the backend.
package llm
