// Package readiness watches the dev servers' ports and publishes a ready
// handle into the registry once a dev server is listening. It inspects the
// operating system's listener table and never connects to a port, so a dev
// server that is still starting is left alone.
package readiness
