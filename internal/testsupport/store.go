package testsupport

import (
	"testing"

	"checkpilot/internal/checkin"
)

// NewRecord creates a pending record for code in store.
func NewRecord(t testing.TB, store *checkin.Store, code string) checkin.Record {
	t.Helper()

	rec, err := store.Create(checkin.Draft{
		ConfirmationCode: code,
		FirstName:        "Jo",
		LastName:         "Doe",
		Source:           checkin.SourceLocal,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}
