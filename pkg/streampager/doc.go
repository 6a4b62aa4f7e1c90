// Package streampager implements the push-based windowed loader for live
// sources. Where the pull pager fetches ranges once, the StreamingPager holds
// a set of chunk-aligned open subscriptions around the last accessed position
// and opens/closes them as the window shifts, so replacements for already
// delivered positions keep flowing in.
//
// Subscriptions
//   - Each subscription covers one chunk of LoadSize positions, aligned to a
//     base chosen from the surviving subscriptions so the grid stays stable
//     while scrolling.
//   - On each stable access key the pager computes the target chunk set,
//     closes subscriptions that fell more than CloseThreshold beyond the new
//     window, and opens the missing chunks in the direction of travel first.
//   - The subscription registry is insertion-ordered: the first error wins
//     when aggregating per-range states, and shutdown is reproducible.
//
// Total side-channel
//   - One background task collects the live total-size stream. A shrink
//     filters the window, cancels subscriptions past the new end and
//     re-aligns the window when the last accessed position lies past the new
//     total.
//   - A failing total stream parks the pager in a sticky error state;
//     Retry on the published snapshot restarts the collection.
//
// Per-range errors do not stop sibling subscriptions; the aggregate state
// reports loading while any range loads, otherwise the first error, otherwise
// success.
package streampager
