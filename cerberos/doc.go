// Package cerberos implements the core of a three-party ticket-based
// authentication protocol: an authentication stage (AS) that exchanges a
// long-term credential for a ticket-granting ticket, a ticket-granting stage
// (TGS) that exchanges a TGT for a service-scoped ticket, and a service
// validation stage (SS) that authorizes actions against a presented ticket.
//
// The engine is transport- and storage-agnostic. Tickets travel as opaque
// sealed blobs; accounts, permissions, and key material are resolved through
// collaborator interfaces supplied by the caller. Aside from the replay
// guard, every operation is a pure function of its inputs.
package cerberos
