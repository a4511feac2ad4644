// Package core contains the identity and entitlement reconciliation engine:
// session acquisition, purchase identity alignment, entitlement
// synchronization and the authenticated request executor. Adapters (REST
// transport, SQL and REST profile stores, job and command bindings) depend on
// this package; core must not depend on them.
package core
