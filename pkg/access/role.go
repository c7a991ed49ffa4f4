package access

// Role is the capability level of a session. It is either writer or reader.
type Role string

const (
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleWriter || r == RoleReader
}

// CanWrite reports whether the role may submit edits.
func (r Role) CanWrite() bool {
	return r == RoleWriter
}

// CanRead reports whether the role may receive document content.
func (r Role) CanRead() bool {
	return r.Valid()
}

// Principal is the resolved identity behind a connection.
type Principal struct {
	Identity   string
	Role       Role
	DocumentID string
	// Owner is the identity owning the document.
	Owner string
	// Guest is true for shared-link sessions.
	Guest bool
}
