package models

// ModelsToAutoMigrate returns the models in dependency order.
func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&RegisterConfiguration{},
		&SequenceCounter{},
		&Document{},
		&WorkflowRecord{},
		&DocumentEvent{},
	}
}
