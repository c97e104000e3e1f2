package sqlinline

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

var markerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// TestQueriesCarryUniqueMarkers walks every const in the package and requires
// a leading --sql <uuid> line that no other query reuses.
func TestQueriesCarryUniqueMarkers(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]string{}
	count := 0
	fset := token.NewFileSet()
	for _, path := range files {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		ast.Inspect(file, func(n ast.Node) bool {
			vs, ok := n.(*ast.ValueSpec)
			if !ok {
				return true
			}
			for i, value := range vs.Values {
				lit, ok := value.(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					continue
				}
				raw := lit.Value
				if raw[0] == '`' {
					raw = raw[1 : len(raw)-1]
				} else if raw, err = strconv.Unquote(raw); err != nil {
					continue
				}
				name := vs.Names[i].Name
				marker := strings.TrimSpace(strings.SplitN(strings.TrimSpace(raw), "\n", 2)[0])
				if !markerPattern.MatchString(marker) {
					t.Errorf("%s: %s has missing or invalid marker %q", fset.Position(lit.Pos()), name, marker)
					continue
				}
				if prev, dup := seen[marker]; dup {
					t.Errorf("%s: %s reuses marker of %s", fset.Position(lit.Pos()), name, prev)
				}
				seen[marker] = name
				count++
			}
			return true
		})
	}
	if count == 0 {
		t.Fatal("no queries found")
	}
}
