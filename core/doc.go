// Package core contains the credential domain contracts, the per-principal
// credential actor, and the subscription registrar. Provider clients, stores,
// and transports live in sibling packages and depend on core, never the
// other way around.
package core
