// Package relay implements the HTTP surface of the service.
//
// The stream handler gates on trading hours, authenticates against the
// upstream provider, opens one broker session per request, and pipes
// normalized ticks to the client as Server-Sent Events. The control-plane
// handlers start and stop the background ingestion feeds.
package relay
