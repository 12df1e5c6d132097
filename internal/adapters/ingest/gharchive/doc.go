// Package gharchive decodes GH Archive hourly files (gzip NDJSON) line by line
//
// Design choices:
//   - Stream with bufio.Scanner with a 32MB line cap so huge push payloads still decode.
//   - Two event shapes: LegacyEvent (pre-2015 timeline schema) and CurrentEvent (Events API schema).
//     A run decodes one era, chosen from the processing year.
//   - Malformed lines are counted and skipped; they never abort a file.
//   - Events are projected immediately (CommitEvent / RepoIDToName) so callers never buffer raw events.
package gharchive
