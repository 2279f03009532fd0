// Package target implements cdist-ng's Target: the per-run representation
// of one host to be configured, grounded on Target in the original
// implementation's target.py. A Target is created once per URL, mutated in
// place as the runtime captures global explorer output and accumulates the
// object-manifest message log, and persisted to its target directory so
// spawned shell fragments (and, cross-process, the emulator) can read its
// object-marker and identifier back off disk.
package target

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/cdist-ng/cdist/internal/cconfig"
	"github.com/cdist-ng/cdist/internal/invariant"
)

// Local is the sentinel TARGET argument "explore" accepts in place of a
// URL: it bypasses remote-exec entirely and runs global explorers through
// the local shell, per spec.md §6/§8.
const Local = "__local__"

// Target is one host to be configured.
type Target struct {
	URL string

	Scheme   string
	User     string
	Host     string
	Port     string
	Path     string
	Query    string
	Fragment string

	// Transports is Scheme split on "+", e.g. "ssh+sudo" -> ["ssh","sudo"].
	// A URL with no scheme (the local sentinel) defaults to ["ssh"], as
	// spec.md §3 requires, even though the local-explore path never
	// consults it.
	Transports []string

	// ObjectMarker is this run's short unique intermediate directory
	// component (see internal/object.Dir), generated once per Target so
	// every object on this target shares it.
	ObjectMarker string

	Explorer map[string]string
	Messages []string

	identifier string
}

// New parses rawURL into a Target: scheme/user/host/port/path/query/
// fragment components, a transports list derived by splitting scheme on
// "+" (default ["ssh"]), a fresh object-marker, and a stable identifier
// (URL-safe base64 of rawURL).
func New(rawURL string) (*Target, error) {
	invariant.Precondition(rawURL != "", "target URL must not be empty")

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("target: invalid URL %q: %w", rawURL, err)
	}

	transports := splitTransports(u.Scheme)

	return &Target{
		URL:          rawURL,
		Scheme:       u.Scheme,
		User:         u.User.Username(),
		Host:         u.Hostname(),
		Port:         u.Port(),
		Path:         u.Path,
		Query:        u.RawQuery,
		Fragment:     u.Fragment,
		Transports:   transports,
		ObjectMarker: newObjectMarker(),
		Explorer:     map[string]string{},
		Messages:     []string{},
		identifier:   identifierFor(rawURL),
	}, nil
}

// NewLocal builds the Target used for the "explore __local__" sentinel and
// for any run that owns no remote target (the emulator's anonymous-target
// test fixtures): it carries the "anonymous" identifier spec.md §3
// reserves for URL-less targets.
func NewLocal() *Target {
	return &Target{
		URL:          Local,
		Transports:   []string{"ssh"},
		ObjectMarker: newObjectMarker(),
		Explorer:     map[string]string{},
		Messages:     []string{},
		identifier:   "anonymous",
	}
}

func splitTransports(scheme string) []string {
	if scheme == "" {
		return []string{"ssh"}
	}
	return strings.Split(scheme, "+")
}

// identifierFor returns the stable identifier for rawURL: "anonymous" for
// the local sentinel (or no URL at all), otherwise the URL-safe base64
// encoding of rawURL, per spec.md §3.
func identifierFor(rawURL string) string {
	if rawURL == "" || rawURL == Local {
		return "anonymous"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}

// newObjectMarker generates a short, run-unique directory-component name.
// A uuid is overkill for collision-avoidance alone, but it is the
// grounded choice here: this module depends on github.com/google/uuid for
// exactly this "short unique name" need (SPEC_FULL.md §12), and this is
// its only use, rather than a bespoke random-string routine.
func newObjectMarker() string {
	return ".cdist-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Identifier returns the Target's stable, URL-derived on-disk identifier.
func (t *Target) Identifier() string {
	return t.identifier
}

// AddMessage appends a line to the message log, prefixed by source (the
// object name that produced it), per the messages-scope close behavior in
// spec.md §4.6.
func (t *Target) AddMessage(source, line string) {
	t.Messages = append(t.Messages, fmt.Sprintf("%s: %s", source, line))
}

// ToDir serializes the Target to dir: url/identifier/object-marker as
// scalars, transports/messages as lists, explorer as a mapping. Round-
// tripping through ToDir/FromDir yields an equivalent Target (spec.md §8).
func (t *Target) ToDir(dir string) error {
	if err := cconfig.WriteScalar(dir, "url", t.URL); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "identifier", t.identifier); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "object-marker", t.ObjectMarker); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "scheme", t.Scheme); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "user", t.User); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "host", t.Host); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "port", t.Port); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "path", t.Path); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "query", t.Query); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "fragment", t.Fragment); err != nil {
		return err
	}
	if err := cconfig.WriteList(dir, "transports", t.Transports); err != nil {
		return err
	}
	if err := cconfig.WriteList(dir, "messages", t.Messages); err != nil {
		return err
	}
	return cconfig.WriteMapping(dir, "explorer", t.Explorer)
}

// FromDir loads a Target back from dir, as persisted by ToDir.
func FromDir(dir string) (*Target, error) {
	rawURL, err := cconfig.ReadScalar(dir, "url")
	if err != nil {
		return nil, err
	}
	identifier, err := cconfig.ReadScalar(dir, "identifier")
	if err != nil {
		return nil, err
	}
	objectMarker, err := cconfig.ReadScalar(dir, "object-marker")
	if err != nil {
		return nil, err
	}
	scheme, err := cconfig.ReadScalar(dir, "scheme")
	if err != nil {
		return nil, err
	}
	user, err := cconfig.ReadScalar(dir, "user")
	if err != nil {
		return nil, err
	}
	host, err := cconfig.ReadScalar(dir, "host")
	if err != nil {
		return nil, err
	}
	port, err := cconfig.ReadScalar(dir, "port")
	if err != nil {
		return nil, err
	}
	path, err := cconfig.ReadScalar(dir, "path")
	if err != nil {
		return nil, err
	}
	query, err := cconfig.ReadScalar(dir, "query")
	if err != nil {
		return nil, err
	}
	fragment, err := cconfig.ReadScalar(dir, "fragment")
	if err != nil {
		return nil, err
	}
	transports, err := cconfig.ReadList(dir, "transports")
	if err != nil {
		return nil, err
	}
	messages, err := cconfig.ReadList(dir, "messages")
	if err != nil {
		return nil, err
	}
	explorer, err := cconfig.ReadMapping(dir, "explorer")
	if err != nil {
		return nil, err
	}

	return &Target{
		URL:          rawURL,
		Scheme:       scheme,
		User:         user,
		Host:         host,
		Port:         port,
		Path:         path,
		Query:        query,
		Fragment:     fragment,
		Transports:   transports,
		ObjectMarker: objectMarker,
		Explorer:     explorer,
		Messages:     messages,
		identifier:   identifier,
	}, nil
}
