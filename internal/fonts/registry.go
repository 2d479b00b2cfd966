// Package fonts indexes the font families installed under the font directory
// so overlays can be checked before ffmpeg is started.
package fonts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/text/cases"

	"mediarender/internal/pkg/logger"
)

// fontPattern matches font files at any depth. Upper-case extensions are
// listed explicitly because doublestar matching is case sensitive.
const fontPattern = "**/*.{ttf,otf,ttc,otc,TTF,OTF,TTC,OTC}"

// Face locates one font face on disk.
type Face struct {
	Family string
	Path   string
	// Index is the face number inside a collection file; 0 for plain fonts.
	Index int
}

// InCollection reports whether the face must be selected by family name
// rather than by file, since drawtext can only load the first face of a file.
func (f Face) InCollection() bool {
	return f.Index > 0
}

// Registry is an immutable index built once at startup.
type Registry struct {
	dir      string
	byFamily map[string]Face
	families []string
}

// key folds a family name. Casers keep state, so one is built per call.
func key(family string) string {
	return cases.Fold().String(strings.Join(strings.Fields(family), " "))
}

// Scan walks dir and indexes every readable font. Unparseable files are
// logged and skipped; a missing directory yields an empty registry.
func Scan(dir string, log *logger.Logger) (*Registry, error) {
	log = logger.OrDiscard(log).WithComponent("fonts")
	r := &Registry{dir: dir, byFamily: make(map[string]Face)}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("font directory does not exist", "dir", dir)
			return r, nil
		}
		return nil, fmt.Errorf("stat font dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("font dir %s is not a directory", dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), fontPattern)
	if err != nil {
		return nil, fmt.Errorf("glob fonts in %s: %w", dir, err)
	}
	sort.Strings(matches)

	var buf sfnt.Buffer
	for _, rel := range matches {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		faces, err := readFaces(path, &buf)
		if err != nil {
			log.Debug("skipping unreadable font", "path", path, "error", err.Error())
			continue
		}
		for _, f := range faces {
			r.add(f)
		}
	}

	for _, f := range r.byFamily {
		r.families = append(r.families, f.Family)
	}
	sort.Strings(r.families)

	log.Info("font registry ready", "dir", dir, "files", len(matches), "families", len(r.families))
	return r, nil
}

// add keeps the first face seen for a family, preferring plain font files
// over later faces of a collection.
func (r *Registry) add(f Face) {
	k := key(f.Family)
	if k == "" {
		return
	}
	if existing, ok := r.byFamily[k]; ok && (!existing.InCollection() || f.InCollection()) {
		return
	}
	r.byFamily[k] = f
}

func readFaces(path string, buf *sfnt.Buffer) ([]Face, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	coll, err := sfnt.ParseCollectionReaderAt(file)
	if err != nil {
		return nil, err
	}

	var faces []Face
	for i := 0; i < coll.NumFonts(); i++ {
		font, err := coll.Font(i)
		if err != nil {
			return nil, err
		}
		for _, id := range []sfnt.NameID{sfnt.NameIDTypographicFamily, sfnt.NameIDFamily} {
			name, err := font.Name(buf, id)
			if err != nil || strings.TrimSpace(name) == "" {
				continue
			}
			faces = append(faces, Face{Family: strings.TrimSpace(name), Path: path, Index: i})
		}
	}
	return faces, nil
}

// NewStatic builds a registry from known faces. Used by tests and by
// callers that manage fonts outside the font directory.
func NewStatic(faces ...Face) *Registry {
	r := &Registry{byFamily: make(map[string]Face)}
	for _, f := range faces {
		r.add(f)
	}
	for _, f := range r.byFamily {
		r.families = append(r.families, f.Family)
	}
	sort.Strings(r.families)
	return r
}

// Resolve looks a family up, ignoring case and repeated whitespace.
func (r *Registry) Resolve(family string) (Face, bool) {
	if r == nil {
		return Face{}, false
	}
	f, ok := r.byFamily[key(family)]
	return f, ok
}

// Families returns the sorted family names.
func (r *Registry) Families() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.families))
	copy(out, r.families)
	return out
}

// Len is the number of indexed families.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.families)
}

// Dir is the scanned directory.
func (r *Registry) Dir() string {
	return r.dir
}
