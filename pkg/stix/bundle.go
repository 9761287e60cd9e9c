// pkg/stix/bundle.go

package stix

import "encoding/json"

// Bundle is a STIX 2.1 bundle of heterogeneous objects.
type Bundle struct {
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Objects []Object `json:"objects"`
}

// NewBundle wraps objects in a bundle with a fresh random id. Nil objects
// are dropped.
func NewBundle(objects ...Object) Bundle {
	kept := make([]Object, 0, len(objects))
	for _, obj := range objects {
		if obj != nil {
			kept = append(kept, obj)
		}
	}
	return Bundle{
		Type:    "bundle",
		ID:      NewBundleID(),
		Objects: kept,
	}
}

// JSON renders the bundle.
func (b Bundle) JSON() ([]byte, error) {
	return json.Marshal(b)
}

// Split breaks a bundle into one bundle per object, the granularity the
// OpenCTI workers ingest at.
func (b Bundle) Split() []Bundle {
	out := make([]Bundle, 0, len(b.Objects))
	for _, obj := range b.Objects {
		out = append(out, Bundle{
			Type:    "bundle",
			ID:      NewBundleID(),
			Objects: []Object{obj},
		})
	}
	return out
}

// ContainsID reports whether the bundle holds an object with the given id.
func (b Bundle) ContainsID(id string) bool {
	for _, obj := range b.Objects {
		if obj.ObjectID() == id {
			return true
		}
	}
	return false
}
