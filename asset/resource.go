// Package asset provides streamable access to local and remote scene assets.
package asset

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// A Resource wraps a streamable local file or remote asset. Scene files
// reference textures and material libraries relative to their own location;
// a Resource remembers where it came from so relative references resolve
// against it.
type Resource struct {
	io.ReadCloser
	url *url.URL
}

// Returns the path to this resource.
func (r *Resource) Path() string {
	return r.url.String()
}

// Returns true if the resource is streamed over http/https.
func (r *Resource) IsRemote() bool {
	return r.url.Scheme != ""
}

// Create a new resource data stream. If relTo is non-nil and pathToResource
// does not define a scheme, the resource path is resolved relative to the
// directory of relTo. The caller must close the returned resource.
func NewResource(pathToResource string, relTo *Resource) (*Resource, error) {
	parsed, err := url.Parse(strings.Replace(pathToResource, `\`, `/`, -1))
	if err != nil {
		return nil, err
	}

	if parsed.Scheme == "" && relTo != nil {
		base, _ := url.Parse(relTo.url.String())
		if base.Scheme == "" {
			parsed.Path = filepath.Join(filepath.Dir(base.Path), parsed.Path)
		} else {
			base.Path = strings.TrimSuffix(base.Path, filepath.Base(base.Path)) + parsed.Path
			parsed = base
		}
	}

	var reader io.ReadCloser
	switch parsed.Scheme {
	case "":
		reader, err = os.Open(filepath.Clean(parsed.Path))
		if err != nil {
			return nil, err
		}
	case "http", "https":
		resp, err := http.Get(parsed.String())
		if err != nil {
			return nil, fmt.Errorf("resource: could not fetch %q: %s", parsed.String(), err)
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("resource: could not fetch %q: status %d", parsed.String(), resp.StatusCode)
		}
		reader = resp.Body
	default:
		return nil, fmt.Errorf("resource: unsupported scheme %q", parsed.Scheme)
	}

	return &Resource{
		ReadCloser: reader,
		url:        parsed,
	}, nil
}

// Create a resource from a reader.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	parsed, _ := url.Parse(name)
	return &Resource{
		ReadCloser: io.NopCloser(source),
		url:        parsed,
	}
}
