// Package blackboard provides shared, time-sensitive knowledge for a pool of
// cooperating agents.
//
// Knowledge is partitioned into a fixed set of areas (world_state, agent_status,
// tasks, resources, threats, build_plans, player_prefs). Each area has a
// maximum age; entries older than that are considered stale and are removed by
// Cleanup. Within an area there is at most one entry per key, and posting to an
// existing key replaces it and resets its timestamp.
//
// Concurrency model:
//
//   - every area has its own read/write lock, so posts to different areas never
//     contend and readers of an area do not block each other
//   - subscribers are notified after the write is visible, with no blackboard
//     lock held; a panicking subscriber is logged and skipped
//   - Cleanup snapshots each area, decides staleness against the time the sweep
//     started, and deletes an entry only if it has not been replaced since the
//     snapshot
//
// Typical use:
//
//	board, err := blackboard.New()
//	if err != nil {
//	    return err
//	}
//	_ = board.Post(blackboard.AreaThreats, "creeper:12,64,-3", pos, "scout-1", 0.8, blackboard.KindFact)
//	threats := board.QueryPattern(blackboard.AreaThreats, "creeper:*")
//
// Values are opaque to the blackboard and must be treated as immutable once
// posted: readers receive the same value the writer stored.
package blackboard
