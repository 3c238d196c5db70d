/*
Package runner executes activation work as external processes under a fixed
concurrency ceiling.

A pool has C execution slots. Submitted jobs queue in arrival order and wait
for a slot; at most C activation processes exist at once. Each job carries a
deadline the pool enforces itself: when it expires the whole process group is
SIGKILLed, so a worker stuck talking to an unreachable device cannot hold a
slot past its deadline plus the kill grace.

Jobs are isolated: one crashing worker process affects nothing else. A crash
surfaces as a failed outcome with the stderr tail attached, never as a hang.
Timeouts are not retried here or anywhere else; callers decide whether to
resubmit.

Shutdown signals running jobs (they finish Cancelled), reports queued jobs as
Cancelled without starting them, and waits for the slots to drain.
*/
package runner
