// Package pager implements the pull-based windowed loader. A Pager watches
// the positions its consumer reads, and after a short debounce plans which
// contiguous ranges to fetch so that a preload window around the last
// accessed position stays materialized, while positions outside a wider
// retention window are evicted.
//
// Scheduling
//   - Accesses feed a latest-wins key signal; the Run loop debounces them
//     and drops repeats, so a burst of reads triggers a single plan around
//     the newest position.
//   - At most one loader is in flight. An access inside the current loader's
//     planned range is ignored; an access outside it cancels the loader and
//     starts a new one (supersession).
//   - The plan fetches the chunk containing the key first, then the rest of
//     the preload window nearest chunks first; among chunks at equal
//     distance the one in the direction of travel comes first.
//     Ranges already materialized are subtracted from the plan.
//
// State
//   - Each portion from the source is merged into a fresh values map,
//     filtered to the retention window, and published as a new immutable
//     snapshot. A portion whose total disagrees with the known total is
//     authoritative: the window is replaced, not merged.
//   - The first load usually starts before the total is known and can only
//     plan the leading chunk. When that load finishes having learned the
//     total, the loader re-plans once around the same key so the access
//     position itself gets materialized.
//   - Errors terminate the current loader and surface as an error load state
//     carrying the triggering key. Previously loaded values stay readable;
//     Retry re-drives planning through the access path.
package pager
