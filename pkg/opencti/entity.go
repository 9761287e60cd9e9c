// pkg/opencti/entity.go

package opencti

// Entity is a flattened view of an OpenCTI observable or vulnerability, as
// returned by the GraphQL API. Only the attributes the alert searches and
// the STIX builders consume are kept.
type Entity struct {
	// ID is the OpenCTI internal id, StandardID the STIX id.
	ID         string
	StandardID string
	EntityType string

	// ObservableValue is OpenCTI's generic rendering of the observable.
	ObservableValue string

	// Name doubles as filename (StixFile) and CVE (Vulnerability).
	Name            string
	Size            *int64
	Hashes          map[string]string
	AdditionalNames []string

	ParentDirectoryRef string
	Path               string

	Key      string
	DataType string
	Data     string

	CommandLine string

	AccountLogin string
	UserID       string

	Value string

	SrcRef  string
	DstRef  string
	SrcPort *int
	DstPort *int

	ObjectMarking []Marking
	Indicators    []Indicator
}

// Marking is one marking definition attached to an entity.
type Marking struct {
	DefinitionType string
	Definition     string
}

// Indicator is an indicator based on an observable.
type Indicator struct {
	ID         string
	StandardID string
}

// TLPMarkings returns the definitions of all TLP markings on the entity.
func (e *Entity) TLPMarkings() []string {
	var out []string
	for _, m := range e.ObjectMarking {
		if m.DefinitionType == "TLP" {
			out = append(out, m.Definition)
		}
	}
	return out
}

// HasHash reports whether any of the given hash algorithms is present and
// non-empty.
func (e *Entity) HasHash(algorithms ...string) bool {
	for _, alg := range algorithms {
		if e.Hashes[alg] != "" {
			return true
		}
	}
	return false
}
