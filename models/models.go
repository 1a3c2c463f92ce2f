package models

// All returns every model migrated at startup, in dependency order
func All() []interface{} {
	return []interface{}{
		&Department{},
		&User{},
		&StaffProfile{},
		&Session{},
		&Request{},
		&Attachment{},
		&Activity{},
		&ClientChangeLog{},
		&AuditLog{},
		&ThrottleEntry{},
	}
}
