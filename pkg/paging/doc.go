// Package paging holds the shared data model of the paging engine: the
// immutable snapshot published to consumers, the data portion exchanged with
// sources, the source contracts, and the two reactive primitives the pagers
// are built on.
//
// Terminology
//   - Position: the zero-based absolute index of an item in the dataset for a
//     given query.
//   - Portion: a single { TotalSize, Values } value returned by a source.
//     TotalSize 0 means the source does not know the count.
//   - Snapshot: the immutable value describing the current paged view. It is
//     never mutated; every state change publishes a fresh snapshot.
//
// Main components
//   - Snapshot: sparse position->value map plus the known total size and the
//     aggregate load state. Reading a position through Get reports the access
//     back to the owning pager, which is what drives window planning. Retry
//     asks the owner to re-plan around a position after an error.
//   - KeySignal: a latest-wins single-slot signal. Every access overwrites the
//     slot; a buffered notification channel coalesces wake-ups so the
//     debounced planner only ever observes the newest key.
//   - Watch: a latest-wins broadcast channel for snapshots. Subscribers get
//     the current value immediately and then every published value in order,
//     coalescing to the newest when they fall behind.
//
// Source contracts
//
// Streams are expressed as blocking calls that invoke a yield callback per
// emission and return on completion, error or context cancellation:
//   - PullSource feeds the pull Pager: ReadData streams portions for one
//     positional range.
//   - LocalSource and RemoteSource feed the mediator: a positional cache with
//     Save/Clear in front of a one-shot remote fetch.
//   - StreamSource feeds the streaming pager: a live total-size stream and a
//     live per-range values stream.
package paging
