// Package app contains the core application logic: the App struct, its
// configuration, and the build/serve/push/export pipelines, decoupled from
// the CLI entrypoint.
package app
