// Package billing resolves an organization's effective plan, enforces plan
// limits before runs start, and moves credits through the append-only ledger.
// Resolution always degrades to the free plan rather than failing a request.
package billing
