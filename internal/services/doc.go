// Package services provides the shared error taxonomy and context helpers
// used across the QA pipeline and its collaborators.
package services
