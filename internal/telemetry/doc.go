// Package telemetry publishes agent status over MQTT so a fleet of
// instances can be watched from one broker. Each instance owns a topic
// subtree rooted at solaris/<instance>/ carrying retained availability
// (with a last-will "offline"), periodic state values, and task
// lifecycle events.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. Publishing is
// strictly one-way and best-effort: a broker outage never blocks or
// fails a task, it only drops status updates.
package telemetry
