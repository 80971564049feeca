package model

// Template mirrors a document template owned by the external record system.
// Content is treated as immutable once referenced by an ID, which is why the
// in-process cache never expires entries implicitly.
type Template struct {
	ID      string
	Name    string
	Content []byte
	// Format of the artifact the merge engine produces for this template,
	// e.g. "html" or "docx".
	MergeFormat string
	// DataSource describes where merge data for this template lives in the
	// record system; empty when the caller always supplies data inline.
	DataSource string
}
