package architecture_test

import (
	"bytes"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// boundary forbids packages under From from importing anything under Deny.
// Paths are relative to the module root.
type boundary struct {
	From      string
	Deny      []string
	SkipTests bool
}

var boundaries = []boundary{
	{From: "internal/platform", Deny: []string{"internal/domain", "internal/data", "internal/realtime", "internal/observability", "internal/services", "internal/http", "internal/app"}},
	{From: "internal/domain", Deny: []string{"internal/data", "internal/realtime", "internal/observability", "internal/services", "internal/http", "internal/app"}},
	{From: "internal/data", Deny: []string{"internal/realtime", "internal/services", "internal/http", "internal/app"}},
	{From: "internal/realtime", Deny: []string{"internal/data", "internal/services", "internal/http", "internal/app"}},
	{From: "internal/observability", Deny: []string{"internal/data", "internal/realtime", "internal/services", "internal/http", "internal/app"}},
	{From: "internal/services", Deny: []string{"internal/http", "internal/app"}},
	// Handlers reach storage through services; router tests seed fixtures directly.
	{From: "internal/http", Deny: []string{"internal/data", "internal/app"}, SkipTests: true},
	// app is the composition root and only cmd may depend on it.
	{From: "internal", Deny: []string{"internal/app"}},
}

type sourceFile struct {
	rel     string
	test    bool
	imports []string
}

type module struct {
	path  string
	files []sourceFile
}

var (
	loadOnce sync.Once
	loaded   module
	loadErr  error
)

func loadModule(t *testing.T) module {
	t.Helper()
	loadOnce.Do(func() { loaded, loadErr = scanModule() })
	if loadErr != nil {
		t.Fatalf("scan module: %v", loadErr)
	}
	return loaded
}

func scanModule() (module, error) {
	wd, err := os.Getwd()
	if err != nil {
		return module{}, err
	}
	root, err := moduleRoot(wd)
	if err != nil {
		return module{}, err
	}
	mod := module{}
	if mod.path, err = modulePath(filepath.Join(root, "go.mod")); err != nil {
		return module{}, err
	}

	fset := token.NewFileSet()
	err = filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") {
			return err
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sf := sourceFile{rel: filepath.ToSlash(rel), test: strings.HasSuffix(path, "_test.go")}
		for _, spec := range f.Imports {
			if imp, err := strconv.Unquote(spec.Path.Value); err == nil {
				sf.imports = append(sf.imports, imp)
			}
		}
		mod.files = append(mod.files, sf)
		return nil
	})
	return mod, err
}

func moduleRoot(dir string) (string, error) {
	for start := dir; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", start)
		}
		dir = parent
	}
}

func modulePath(goMod string) (string, error) {
	raw, err := os.ReadFile(goMod)
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(raw, []byte("\n")) {
		if rest, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("module ")); ok {
			if p := strings.Trim(string(bytes.TrimSpace(rest)), `"`); p != "" {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%s has no module directive", goMod)
}

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func TestLayerBoundaries(t *testing.T) {
	mod := loadModule(t)
	for _, b := range boundaries {
		b := b
		t.Run(strings.ReplaceAll(b.From, "/", "_"), func(t *testing.T) {
			var found []string
			for _, f := range mod.files {
				if !under(f.rel, b.From) || (b.SkipTests && f.test) {
					continue
				}
				for _, imp := range f.imports {
					for _, deny := range b.Deny {
						if under(f.rel, deny) {
							// a package may import itself and its children
							continue
						}
						if under(imp, mod.path+"/"+deny) {
							found = append(found, fmt.Sprintf("%s imports %s", f.rel, imp))
						}
					}
				}
			}
			sort.Strings(found)
			if len(found) > 0 {
				t.Fatalf("%s must not import %v:\n  %s", b.From, b.Deny, strings.Join(found, "\n  "))
			}
		})
	}
}

func TestScanSeesLayers(t *testing.T) {
	mod := loadModule(t)
	seen := map[string]bool{}
	for _, f := range mod.files {
		for _, b := range boundaries {
			if under(f.rel, b.From) {
				seen[b.From] = true
			}
		}
	}
	for _, b := range boundaries {
		if !seen[b.From] {
			t.Errorf("no Go files found under %s; boundary rule is stale", b.From)
		}
	}
}
