package appointment

import "context"

// Lister is the read side of the store, all the availability checker needs.
type Lister interface {
	List(ctx context.Context, f Filter) ([]Appointment, error)
}

// Store is the contract of the remote system of record.
//
// Create fails with a *ValidationError, *ConflictError or *StorageError.
// Update and Delete fail with ErrNotFound or a *StorageError (Update may also
// report validation or conflict failures for reschedules). The store, not the
// client, is responsible for enforcing non-overlap under concurrent writers.
type Store interface {
	Lister
	Create(ctx context.Context, d Draft) (*Appointment, error)
	Update(ctx context.Context, id string, p Patch) (*Appointment, error)
	Delete(ctx context.Context, id string) error
}
