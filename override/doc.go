// Package override resolves host names with per-context overrides.
//
// A Configuration holds explicit mappings from an IP address to host names. A
// Resolver answers address lookups from, in order: the explicit mappings of
// its configuration, an optional hosts-style table, and genuine resolution.
// Each outcome is cached for the lifetime of the Resolver. Concurrent lookups
// of the same uncached host share a single computation.
//
// Resolvers are bound to execution contexts: a context.Context and everything
// derived from it. An Orchestrator starts isolated contexts, each with its own
// Configuration and Resolver, registered in a Registry. Code running in such a
// context finds its Resolver through the Registry, with the context as key.
//
// Initialize installs a process-wide Provider once. It registers a default
// resolver for contexts without their own, and hooks net.DefaultResolver so
// ordinary Go lookups are answered by the resolver registered for the lookup's
// context. Code that needs strict isolation between concurrently running
// contexts should use the net.Resolver from Resolver.NetResolver: the Go
// resolver merges concurrent identical lookups on one net.Resolver, regardless
// of context.
package override
