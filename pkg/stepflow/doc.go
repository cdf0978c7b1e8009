// Package stepflow provides a minimal public façade for building and
// running onboarding flows without importing internal packages. It
// re-exports the core flow types for convenience and exposes a Runtime
// with simple methods to manage flows and step visitors through them.
package stepflow
