/*
Package config loads daemon configuration.

Precedence is defaults, then the YAML file passed to serve, then environment
variables (JITBRIDGE_LISTEN, JITBRIDGE_DATA_DIR, JITBRIDGE_REGISTRATION,
JITBRIDGE_POOL_CAPACITY, JITBRIDGE_WG_ENDPOINT). Policy knobs the
orchestrator consumes, such as pool capacity, job timeout, cooldown,
registration mode and the address pool, all live here rather than
hard-coded.
*/
package config
