package resolve

import (
	"context"
	"testing"
	"time"

	"skref/internal/basestore"
	"skref/internal/layers"
	"skref/internal/patch"
	"skref/internal/section"
	"skref/internal/slogutil"
	"skref/internal/testutil"
)

func TestGoldenErrorLifecycle(t *testing.T) {
	fixture := testutil.LoadFixture(t, "error-lifecycle")
	logger := slogutil.NewDiscardLogger()

	base := basestore.Open(fixture.Path("base"), basestore.Options{
		LockPath:    t.TempDir() + "/base.lock",
		LockTimeout: time.Second,
		LockPoll:    10 * time.Millisecond,
	}, logger)
	loader := layers.NewLoader(layers.Layout{
		UserRoot:  fixture.Path("user"),
		SharedDir: ".skref/skills",
		LocalDir:  ".skref/local/skills",
	}, logger)

	eff, err := New(base, loader, patch.Options{}, logger).
		Resolve(context.Background(), "error-lifecycle", fixture.Path("project"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	testutil.CompareGolden(t, fixture, "effective.md", []byte(section.Render(eff.Document)))
	testutil.CompareGoldenJSON(t, fixture, "provenance.json", eff.Provenance)
}
