// Package notifications alerts the operator about step failures and finished
// batches.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. The workflow
// manager only depends on the Notifier interface.
package notifications
