package persistence

// Persistence bundles the store interfaces so the services can depend on a
// single abstraction.
type Persistence struct {
	Templates TemplateStore
	Instances InstanceStore
	Runs      RunStore
	Content   ContentStore
	Processed ProcessedStore
}

// NewInMemoryPersistence returns a Persistence backed by one InMemoryStore.
func NewInMemoryPersistence() Persistence {
	mem := NewInMemoryStore()
	return Persistence{
		Templates: mem,
		Instances: mem,
		Runs:      mem,
		Content:   mem,
		Processed: mem,
	}
}

// NewSQLitePersistence returns a Persistence backed by one SQLiteStore.
func NewSQLitePersistence(s *SQLiteStore) Persistence {
	return Persistence{
		Templates: s,
		Instances: s,
		Runs:      s,
		Content:   s,
		Processed: s,
	}
}
