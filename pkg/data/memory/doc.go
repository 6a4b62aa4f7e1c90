// Package memory provides in-memory implementations of the data source
// contracts: a generator-backed Dataset (pull and remote source), a
// per-query Cache (local source) and a live Feed (streaming source). They
// back the demo commands and the end-to-end tests; fault hooks make the
// error paths reachable without real infrastructure.
package memory
