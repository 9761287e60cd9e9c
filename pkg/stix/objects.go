// pkg/stix/objects.go

package stix

// STIX 2.1 domain and relationship objects, modeled with just the
// properties this connector emits. OpenCTI accepts custom x_opencti_* and
// extension properties alongside the standard ones.

// SpecVersion is the STIX version stamped on every object.
const SpecVersion = "2.1"

// Object is anything that can go into a bundle.
type Object interface {
	ObjectID() string
	ObjectType() string
}

// Common carries the properties shared by every object the connector
// creates.
type Common struct {
	Type              string   `json:"type"`
	SpecVersion       string   `json:"spec_version"`
	ID                string   `json:"id"`
	CreatedByRef      string   `json:"created_by_ref,omitempty"`
	Confidence        *int     `json:"confidence,omitempty"`
	ObjectMarkingRefs []string `json:"object_marking_refs,omitempty"`
	Labels            []string `json:"labels,omitempty"`
}

func (c Common) ObjectID() string   { return c.ID }
func (c Common) ObjectType() string { return c.Type }

// ExternalReference points from a STIX object to a non-STIX resource, here
// always a Wazuh alert in the dashboard.
type ExternalReference struct {
	SourceName  string `json:"source_name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Identity is an author, SIEM system or agent system.
type Identity struct {
	Common
	Created       string `json:"created,omitempty"`
	Modified      string `json:"modified,omitempty"`
	Name          string `json:"name"`
	IdentityClass string `json:"identity_class"`
	Description   string `json:"description,omitempty"`
}

// Incident is an OpenCTI incident; severity and first/last seen are OpenCTI
// extensions.
type Incident struct {
	Common
	Created      string `json:"created"`
	Modified     string `json:"modified,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IncidentType string `json:"incident_type,omitempty"`
	Severity     string `json:"severity,omitempty"`
	FirstSeen    string `json:"first_seen,omitempty"`
	LastSeen     string `json:"last_seen,omitempty"`
}

// Sighting records that an observable was seen by a sighter. STIX requires
// sighting_of_ref to be an indicator, so a dummy indicator is referenced
// and the real observable travels in x_opencti_sighting_of_ref.
type Sighting struct {
	Common
	Created               string              `json:"created,omitempty"`
	Modified              string              `json:"modified,omitempty"`
	FirstSeen             string              `json:"first_seen"`
	LastSeen              string              `json:"last_seen"`
	Count                 int                 `json:"count"`
	SightingOfRef         string              `json:"sighting_of_ref"`
	WhereSightedRefs      []string            `json:"where_sighted_refs"`
	XOpenCTISightingOfRef string              `json:"x_opencti_sighting_of_ref,omitempty"`
	ExternalReferences    []ExternalReference `json:"external_references,omitempty"`
}

// Note attaches alert details or run summaries to other objects.
type Note struct {
	Common
	Created    string   `json:"created"`
	Modified   string   `json:"modified,omitempty"`
	Abstract   string   `json:"abstract,omitempty"`
	Content    string   `json:"content"`
	ObjectRefs []string `json:"object_refs"`
}

// Relationship links two objects (related-to, targets, indicates, uses).
type Relationship struct {
	Common
	Created          string `json:"created,omitempty"`
	Modified         string `json:"modified,omitempty"`
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}

// AttackPattern is a MITRE technique referenced by an alert rule.
type AttackPattern struct {
	Common
	Name     string `json:"name"`
	XMitreID string `json:"x_mitre_id,omitempty"`
}

// Tool is a software tool used in an attack (schtasks, PsExec…).
type Tool struct {
	Common
	Name string `json:"name"`
}
