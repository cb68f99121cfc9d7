// Package stub provides interfaces and stub implementations.
//
// Packages in hostoverride use these interfaces and implementations so software
// embedding the resolver won't have to take on unwanted dependencies.
//
// Stubs are provided for: metrics (prometheus).
package stub
