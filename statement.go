package pgwire

// FieldDescription describes one result column of a prepared statement.
type FieldDescription struct {
	Name        string
	DataTypeOID uint32
}

// Statement describes a server-side prepared statement. It is produced by the
// statement preparation subsystem and treated as immutable here: every
// execution of the statement shares it read-only.
type Statement struct {
	Name      string
	SQL       string
	ParamOIDs []uint32
	Fields    []FieldDescription
}

// Portal is a named server-side cursor bound to a statement and a set of
// parameter values. Rows are fetched from it in bounded chunks with
// Executor.QueryPortal. Its server-side lifetime ends when it is explicitly
// closed or the enclosing transaction ends.
type Portal struct {
	Name      string
	Statement *Statement
}
