package domain

// Record is externally supplied reference text merged into analysis requests.
type Record struct {
	Present  bool   `json:"present"`
	Content  string `json:"content,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// HasContent reports whether the record contributes text to a request.
func (r Record) HasContent() bool {
	return r.Present && r.Content != ""
}

// RecordStore holds at most one Record. It is only replaced or cleared as a whole.
type RecordStore struct {
	rec Record
}

func NewRecordStore(r Record) RecordStore {
	return RecordStore{rec: r}
}

func (s *RecordStore) Set(content, filename string) {
	s.rec = Record{Present: true, Content: content, Filename: filename}
}

func (s *RecordStore) Clear() {
	s.rec = Record{}
}

func (s *RecordStore) Get() Record {
	return s.rec
}
