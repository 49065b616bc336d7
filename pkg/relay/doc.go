// Package relay runs the per-message pipeline: record the user turn, ask the
// completion provider for a reply, record it, and deliver it back to the
// user. Events are dispatched onto one lane per user so messages from the
// same user are handled strictly in arrival order.
package relay
