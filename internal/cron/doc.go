// Package cron hosts the queue- and scheduler-invoked job routes. Every route
// authenticates the raw body, validates the JSON payload, dispatches through a
// static action table and answers with a short acknowledgement or a JSON error.
package cron
