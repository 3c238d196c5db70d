/*
Package storage provides persistent state storage for jitbridge using BoltDB.

Only the device table is durable. Every mutating call commits to disk before
returning, so a crash immediately after a successful registration never loses
it. Sessions and the worker queue are volatile by design; a restart while jobs
are running leaves the device table intact and the queues empty.

Layout: a single `devices` bucket keyed by UDID, values JSON-marshalled
types.Device records. BoltDB gives single-writer/multi-reader transactions,
which is plenty for a registry mutated only on registration and touch.

Usage:

	store, err := storage.NewBoltStore("/var/lib/jitbridge")
	if err != nil {
		return err
	}
	defer store.Close()

	device, err := store.GetDevice(udid)
	if errors.Is(err, storage.ErrNotFound) {
		// device was never registered
	}
*/
package storage
