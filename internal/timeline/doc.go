// Package timeline keeps each conversation's message list and reconciles
// the duplicates an at-least-once, multi-endpoint transport produces.
//
// Add applies, in order:
//
//  1. An exact id match is dropped.
//  2. An existing record with status sending or sent, the same sender and
//     identical content within MergeWindow is replaced in place by the
//     incoming record, which becomes sent. This pairs a local optimistic
//     send with its echo.
//  3. Any existing record with the same sender and identical content within
//     DuplicateWindow drops the incoming record.
//
// Otherwise the record is appended and the list kept in ascending timestamp
// order. Lists are copy-on-write: a slice returned by Messages is never
// modified afterwards.
package timeline
