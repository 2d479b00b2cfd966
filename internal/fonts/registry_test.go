package fonts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func writeFont(t *testing.T, dir, rel string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0o644))
	return path
}

func TestScanIndexesNestedFonts(t *testing.T) {
	dir := t.TempDir()
	path := writeFont(t, dir, "truetype/go/Go-Regular.TTF")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a font"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.ttf"), []byte("garbage"), 0o644))

	reg, err := Scan(dir, nil)
	require.NoError(t, err)

	face, ok := reg.Resolve("go")
	require.True(t, ok, "families: %v", reg.Families())
	assert.Equal(t, "Go", face.Family)
	assert.Equal(t, path, face.Path)
	assert.False(t, face.InCollection())
	assert.Equal(t, []string{"Go"}, reg.Families())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, dir, reg.Dir())
}

func TestScanMissingDirectory(t *testing.T) {
	reg, err := Scan(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	assert.Zero(t, reg.Len())

	_, ok := reg.Resolve("Go")
	assert.False(t, ok)
}

func TestScanRejectsFile(t *testing.T) {
	path := writeFont(t, t.TempDir(), "Go-Regular.ttf")
	_, err := Scan(path, nil)
	assert.Error(t, err)
}

func TestResolveFoldsCaseAndSpace(t *testing.T) {
	reg := NewStatic(
		Face{Family: "Noto Sans CJK SC", Path: "/fonts/NotoSansCJK-Regular.ttc", Index: 2},
		Face{Family: "DejaVu Sans", Path: "/fonts/DejaVuSans.ttf"},
	)

	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"Noto Sans CJK SC", "Noto Sans CJK SC", true},
		{"noto  sans cjk sc", "Noto Sans CJK SC", true},
		{"DEJAVU SANS", "DejaVu Sans", true},
		{"Comic Sans", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			face, ok := reg.Resolve(tt.query)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, face.Family)
		})
	}

	cjk, _ := reg.Resolve("Noto Sans CJK SC")
	assert.True(t, cjk.InCollection())
}

func TestPlainFilePreferredOverCollectionFace(t *testing.T) {
	reg := NewStatic(
		Face{Family: "Noto Sans CJK SC", Path: "/fonts/NotoSansCJK.ttc", Index: 2},
		Face{Family: "Noto Sans CJK SC", Path: "/fonts/NotoSansSC-Regular.otf"},
	)

	face, ok := reg.Resolve("Noto Sans CJK SC")
	require.True(t, ok)
	assert.Equal(t, "/fonts/NotoSansSC-Regular.otf", face.Path)
}

func TestFamiliesReturnsCopy(t *testing.T) {
	reg := NewStatic(Face{Family: "A", Path: "/a.ttf"})
	fams := reg.Families()
	fams[0] = "mutated"
	assert.Equal(t, []string{"A"}, reg.Families())
}
