// Package domain models earthquake events and the derived alerting data.
//
// # Data Source
//
// Events originate from two places. At startup the service seeds its working
// set from the USGS FDSN event catalog (GeoJSON, see adapter/usgs). While
// running it consumes a live websocket feed that pushes one JSON object per
// message. The feed carries no ordering guarantee across reconnects, so the
// catalog-assigned ID is the only identity: a later message with the same ID
// replaces the earlier record (last write wins by arrival, not by time).
//
// # Feed Message Format
//
// Canonical form:
//
//	{"type":"earthquake","id":"us7000abcd","magnitude":4.8,
//	 "epicenter":{"lat":9.0,"lng":38.7},"depthKm":10,
//	 "occurredAt":"2024-04-26T15:10:00Z","tsunamiFlag":false}
//
// Legacy dashboard form (still accepted):
//
//	{"type":"earthquake","id":"us7000abcd","magnitude":4.8,
//	 "location":{"lat":9.0,"lng":38.7,"place":"12 km NE of Addis Ababa"},
//	 "time":1714144200000,"depth":10,"tsunami":0}
//
// A message whose type is present and not "earthquake" is a control message
// and is ignored. Times may be RFC 3339 strings or epoch milliseconds.
//
// # Windows
//
// An event is inside a window of length W at instant now iff now-occurredAt < W.
// The dashboard statistics use W = 24h; the regional risk model uses 90 days.
//
// # Risk Levels
//
//	score > 80 critical | > 60 high | > 40 moderate | else low
//
// Scores sitting exactly on a threshold round down in severity.
//
// # Alert Status
//
// The dashboard banner is computed over the 24h window: high when any event
// reaches M5.0, moderate when more than two events reach M4.0, normal otherwise.
package domain
