// Package core provides the CSV to JSON conversion pipeline and the
// session service built on it.
//
// The package is independent of any UI or transport layer. Web handlers
// and tests drive it through [Service] or call the pipeline stages
// directly.
//
// # Pipeline
//
// A conversion runs four stages in order:
//
//  1. [Ingest] parses the upload into a [Table]. The reader is wrapped to
//     skip a UTF-8 BOM and reject invalid UTF-8. Large files are read in
//     batches of raw records; column kinds are inferred once over the
//     whole table.
//  2. [Sample] optionally draws a subset of rows without replacement.
//  3. [Transform] reshapes the table into a Records, Split or Index
//     [Document]. Large Index conversions run in batches with progress.
//  4. [Serialize] writes indented JSON and [NewArtifact] prepares the
//     viewer preview, truncated above the character limit, and the
//     download.
//
// # Sessions
//
// [Service.CreateSession] stores a parsed upload in memory under a random
// ID. [Service.StartConversion] runs the remaining stages in the
// background; progress is broadcast to [Service.SubscribeProgress]
// listeners. Sessions expire after an idle TTL and nothing is persisted,
// apart from the optional metadata-only history log ([PGHistoryStore]).
//
// # Error Handling
//
// Stages return errors wrapping the sentinels in errors.go. [MapError]
// turns them into user-facing messages with a support code:
//
//   - FILE001-FILE006: File errors (size, parse, encoding, type)
//   - CNV001-CNV005: Conversion errors
//   - SES001: Session errors
//   - UPL002-UPL005: Capacity and request errors
package core
