package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"stitchsentry/internal/config"
	"stitchsentry/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewOrganization creates a tenant with a random id for tests.
func NewOrganization(t testing.TB, st *store.Store, name, planSlug string) *store.Organization {
	t.Helper()

	org, err := st.CreateOrganization(context.Background(), uuid.NewString(), name, planSlug)
	if err != nil {
		t.Fatalf("store.CreateOrganization: %v", err)
	}
	return org
}

// NewDesignFile records a design file for tests using the provided store.
func NewDesignFile(t testing.TB, st *store.Store, orgID string, sizeBytes int64) *store.DesignFile {
	t.Helper()

	file, err := st.CreateDesignFile(context.Background(), &store.DesignFile{
		OrganizationID: orgID,
		Disk:           "local",
		Path:           "designs/" + uuid.NewString() + ".dst",
		OriginalName:   "design.dst",
		Format:         "dst",
		SizeBytes:      sizeBytes,
	})
	if err != nil {
		t.Fatalf("store.CreateDesignFile: %v", err)
	}
	return file
}

// NewRun enqueues a QA run for tests using the provided store.
func NewRun(t testing.TB, st *store.Store, orgID string, designFileID int64, presetSlug, planSlug string) *store.Run {
	t.Helper()

	run, err := st.CreateRun(context.Background(), orgID, designFileID, "tester", presetSlug, planSlug)
	if err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return run
}
