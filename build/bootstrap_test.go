package build

import (
	"context"
	"strings"
	"testing"
)

func TestCompileBootstrap(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app.tsx":         "export default function App({ children }: { children: any }) { return children }\n",
		"pages/index.tsx": "export default function Home() { return <h1>Home</h1> }\n",
		"pages/about.tsx": "export default function About() { return <h1>About</h1> }\n",
	})
	ctx, err := NewContext(Options{Root: root, CacheDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	bg := context.Background()
	if _, err := ctx.Build(bg); err != nil {
		t.Fatal(err)
	}

	main, err := ctx.CompileBootstrap(bg)
	if err != nil {
		t.Fatal(err)
	}
	if main.ID != BootstrapID || len(main.Deps) != 3 {
		t.Fatalf("invalid bootstrap module %+v", main)
	}
	for _, dep := range main.Deps {
		target := mustModule(t, ctx, dep.ID())
		if !strings.Contains(string(main.Content), target.ServedPath()[1:]) {
			t.Fatalf("the bootstrap module should import %s:\n%s", target.ServedPath(), main.Content)
		}
	}
	if !strings.Contains(string(main.Content), `"/about"`) {
		t.Fatalf("invalid bootstrap module:\n%s", main.Content)
	}

	// a page change versions the bootstrap module
	writeFiles(t, root, map[string]string{"pages/about.tsx": "export default function About() { return <h1>About us</h1> }\n"})
	changed, err := ctx.Recompile(bg, "pages/about.tsx")
	if err != nil {
		t.Fatal(err)
	}
	if ids := strings.Join(moduleIDs(changed), ","); ids != "./main.js,./pages/about.js" {
		t.Fatalf("invalid changed modules %s", ids)
	}

	// a new page is added to the bootstrap module
	writeFiles(t, root, map[string]string{"pages/blog.tsx": "export default function Blog() { return <h1>Blog</h1> }\n"})
	if _, err := ctx.Recompile(bg, "pages/blog.tsx"); err != nil {
		t.Fatal(err)
	}
	main, err = ctx.CompileBootstrap(bg)
	if err != nil {
		t.Fatal(err)
	}
	if len(main.Deps) != 4 || !strings.Contains(string(main.Content), `"/blog"`) {
		t.Fatalf("invalid bootstrap module:\n%s", main.Content)
	}
}
