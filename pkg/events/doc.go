/*
Package events provides a pub/sub broker for orchestrator events.

The broker distributes device and session lifecycle events to subscribers
over buffered channels. Slow subscribers drop events rather than block the
distribution loop.
*/
package events
