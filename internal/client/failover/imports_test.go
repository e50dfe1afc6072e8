package failover_test

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestClientImports(t *testing.T) {
	Convey("Given the client packages", t, func() {
		var imports []string
		for _, dir := range []string{".", "../api", "../reconcile"} {
			files, err := filepath.Glob(filepath.Join(dir, "*.go"))
			So(err, ShouldBeNil)
			for _, name := range files {
				if strings.HasSuffix(name, "_test.go") {
					continue
				}
				f, err := parser.ParseFile(token.NewFileSet(), name, nil, parser.ImportsOnly)
				So(err, ShouldBeNil)
				for _, spec := range f.Imports {
					path, _ := strconv.Unquote(spec.Path.Value)
					imports = append(imports, path)
				}
			}
		}

		Convey("Then none of them link the server", func() {
			So(imports, ShouldNotBeEmpty)
			So(imports, ShouldNotContain, "github.com/okian/roomsync/internal/app")
			So(imports, ShouldContain, "github.com/okian/roomsync/internal/domain/roomapi")
		})
	})
}
