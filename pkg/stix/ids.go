// pkg/stix/ids.go

package stix

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// OpenCTI derives deterministic STIX IDs as UUIDv5 over the OASIS
// cyber-observable namespace of a canonical JSON of the object's
// identifying properties. The same scheme is reproduced here so objects
// created by this connector dedup cleanly against pycti-created ones.
var oasisNamespace = uuid.MustParse("00abedb4-aa42-466c-9c01-fed23315a9b7")

// DummyIndicatorID is referenced by sightings: STIX requires
// sighting_of_ref, while OpenCTI takes the real target from
// x_opencti_sighting_of_ref.
const DummyIndicatorID = "indicator--167565fe-69da-5e2f-a1c1-0542736f9f9a"

func deterministicID(objectType string, data map[string]interface{}) string {
	// json.Marshal sorts map keys, which is all the canonicalization the
	// id properties need (flat maps of strings and numbers).
	payload, err := json.Marshal(data)
	if err != nil {
		panic("stix: id properties not marshalable: " + err.Error())
	}
	return objectType + "--" + uuid.NewSHA1(oasisNamespace, payload).String()
}

// IdentityID derives an identity id from name and identity class.
func IdentityID(name, identityClass string) string {
	return deterministicID("identity", map[string]interface{}{
		"name":           strings.ToLower(strings.TrimSpace(name)),
		"identity_class": strings.ToLower(identityClass),
	})
}

// IncidentID derives an incident id from name and creation timestamp.
func IncidentID(name, created string) string {
	return deterministicID("incident", map[string]interface{}{
		"name":    strings.ToLower(strings.TrimSpace(name)),
		"created": created,
	})
}

// NoteID derives a note id from creation timestamp and content.
func NoteID(created, content string) string {
	return deterministicID("note", map[string]interface{}{
		"created": created,
		"content": content,
	})
}

// AttackPatternID derives an attack-pattern id from name and MITRE id.
func AttackPatternID(name, xMitreID string) string {
	data := map[string]interface{}{
		"name": strings.ToLower(strings.TrimSpace(name)),
	}
	if xMitreID != "" {
		data["x_mitre_id"] = strings.ToLower(strings.TrimSpace(xMitreID))
	}
	return deterministicID("attack-pattern", data)
}

// ToolID derives a tool id from its name.
func ToolID(name string) string {
	return deterministicID("tool", map[string]interface{}{
		"name": strings.ToLower(strings.TrimSpace(name)),
	})
}

// RelationshipID derives a relationship id from type and endpoints.
func RelationshipID(relationshipType, sourceRef, targetRef string) string {
	return deterministicID("relationship", map[string]interface{}{
		"relationship_type": relationshipType,
		"source_ref":        sourceRef,
		"target_ref":        targetRef,
	})
}

// SightingID derives a sighting id from its target, sighter and time span.
func SightingID(sightingOfRef, whereSightedRef, firstSeen, lastSeen string) string {
	return deterministicID("sighting", map[string]interface{}{
		"sighting_of_ref":   sightingOfRef,
		"where_sighted_ref": whereSightedRef,
		"first_seen":        firstSeen,
		"last_seen":         lastSeen,
	})
}

// ObservableID derives an SCO id from its type and identifying properties.
func ObservableID(objectType string, idProps map[string]interface{}) string {
	return deterministicID(objectType, idProps)
}

// NewBundleID returns a random bundle id.
func NewBundleID() string {
	return "bundle--" + uuid.NewString()
}
