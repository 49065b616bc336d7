// Package completion sends conversation history to a language model and
// returns the reply text.
//
// Every backend makes exactly one attempt per call. Callers distinguish two
// failure classes: ErrNoContent when the provider answered without text, and
// *RemoteError for transport failures, non-2xx answers, timeouts and
// undecodable bodies.
package completion
