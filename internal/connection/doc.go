// Package connection implements the Channel Manager component.
//
// The Channel Manager:
//   - Owns one WebSocket connection per channel at a time
//   - Sends the topic's subscription frame on every (re)connect
//   - Sends {"op":"ping"} heartbeats while the connection is ready
//   - Reconnects after a fixed delay on any transport error or close
//   - Parses inbound frames and hands them to the caller's callback
package connection
