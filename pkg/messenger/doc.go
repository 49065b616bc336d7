// Package messenger talks to the Messenger Platform: it delivers replies
// through the Graph Send API and normalises inbound webhook payloads.
package messenger
