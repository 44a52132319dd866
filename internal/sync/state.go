package sync

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/schaermu/crsm/internal/fingerprint"
	"github.com/schaermu/crsm/internal/objectstore"
)

// Kind classifies a published object
type Kind string

const (
	KindVideo     Kind = "video"
	KindThumbnail Kind = "thumbnail"
	KindCatalog   Kind = "catalog"
)

// Action is what the plan does with an object
type Action string

const (
	ActionUpload Action = "upload"
	ActionSkip   Action = "skip"
)

// LocalObject is one object the remote should hold. Files are read from
// Path; the catalog is held in Body.
type LocalObject struct {
	Key             string
	Kind            Kind
	Path            string
	Body            []byte
	Fingerprint     fingerprint.Fingerprint
	ContentType     string
	ContentEncoding string
	// AssetID is the owning record; zero for the catalog
	AssetID int64
	// Rehashed is set when Fingerprint no longer matches the stored one
	Rehashed bool
}

func (o LocalObject) open() (io.ReadCloser, int64, error) {
	if o.Body != nil {
		return io.NopCloser(bytes.NewReader(o.Body)), int64(len(o.Body)), nil
	}
	f, err := os.Open(o.Path)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

// Directive is the planned action for one object
type Directive struct {
	Key    string
	Action Action
	Reason string
	Kind   Kind
	Local  LocalObject
}

// Plan is the ordered list of directives: assets by key, catalog last
type Plan struct {
	Directives []Directive
	// Unavailable holds local objects that could not be collected
	Unavailable []*PublishError
}

// Count returns the number of directives with the given action
func (p *Plan) Count(a Action) int {
	n := 0
	for _, d := range p.Directives {
		if d.Action == a {
			n++
		}
	}
	return n
}

// BuildPlan compares local objects against the remote listing. An object is
// uploaded when it is absent remotely, its size differs, the remote carries
// no fingerprint, or the fingerprints differ.
func BuildPlan(local []LocalObject, remote []objectstore.Object) *Plan {
	remoteByKey := make(map[string]objectstore.Object, len(remote))
	for _, o := range remote {
		remoteByKey[o.Key] = o
	}

	var assets, catalogs []Directive
	for _, lo := range local {
		d := Directive{Key: lo.Key, Kind: lo.Kind, Local: lo}
		d.Action, d.Reason = decide(lo, remoteByKey)
		if lo.Kind == KindCatalog {
			catalogs = append(catalogs, d)
		} else {
			assets = append(assets, d)
		}
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].Key < assets[j].Key
	})

	return &Plan{Directives: append(assets, catalogs...)}
}

func decide(lo LocalObject, remote map[string]objectstore.Object) (Action, string) {
	ro, ok := remote[lo.Key]
	switch {
	case !ok:
		return ActionUpload, "absent remotely"
	case ro.Size != lo.Fingerprint.Size:
		return ActionUpload, "size differs"
	case ro.Fingerprint == "":
		return ActionUpload, "remote fingerprint missing"
	case ro.Fingerprint != lo.Fingerprint.SHA256:
		return ActionUpload, "fingerprint differs"
	default:
		return ActionSkip, "unchanged"
	}
}
