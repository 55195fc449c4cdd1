// SPDX-License-Identifier: MIT

package render

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJava writes a shell script that stands in for the java binary. The
// script ignores the jar arguments and runs the given body.
func fakeJava(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stand-in not available on windows")
	}
	path := filepath.Join(t.TempDir(), "java")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRenderSuccess(t *testing.T) {
	bin := fakeJava(t, `cat >/dev/null; printf 'JPEGDATA'`)
	r := NewRunner(bin, "plantuml.jar", 10*time.Second)

	out, err := r.Render(context.Background(), "@startuml\n@enduml\n")
	require.NoError(t, err)
	assert.Equal(t, []byte("JPEGDATA"), out)
}

func TestRenderFailureCapturesStderr(t *testing.T) {
	bin := fakeJava(t, `cat >/dev/null; echo 'Syntax Error line 3' >&2; exit 200`)
	r := NewRunner(bin, "plantuml.jar", 10*time.Second)

	_, err := r.Render(context.Background(), "@startuml\nbroken\n@enduml\n")
	require.Error(t, err)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, 200, renderErr.ExitCode)
	require.NotEmpty(t, renderErr.Stderr)
	assert.Contains(t, renderErr.Stderr[0], "Syntax Error")
}

func TestRenderEmptyOutput(t *testing.T) {
	bin := fakeJava(t, `cat >/dev/null`)
	r := NewRunner(bin, "plantuml.jar", 10*time.Second)

	_, err := r.Render(context.Background(), "@startuml\n@enduml\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}

func TestRenderTimeout(t *testing.T) {
	bin := fakeJava(t, `sleep 30`)
	r := NewRunner(bin, "plantuml.jar", 200*time.Millisecond)
	r.killDelay = time.Second

	start := time.Now()
	_, err := r.Render(context.Background(), "@startuml\n@enduml\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRenderToFile(t *testing.T) {
	bin := fakeJava(t, `cat >/dev/null; printf 'IMG'`)
	r := NewRunner(bin, "plantuml.jar", 10*time.Second)

	path := filepath.Join(t.TempDir(), "out", "diagram.jpg")
	require.NoError(t, r.RenderToFile(context.Background(), "@startuml\n@enduml\n", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("IMG"), data)
}

func TestProbe(t *testing.T) {
	bin := fakeJava(t, `exit 0`)

	jar := filepath.Join(t.TempDir(), "plantuml.jar")
	require.NoError(t, os.WriteFile(jar, []byte("PK"), 0o640))

	r := NewRunner(bin, jar, 10*time.Second)
	assert.NoError(t, r.Probe(context.Background()))

	r.JarPath = filepath.Join(t.TempDir(), "missing.jar")
	assert.Error(t, r.Probe(context.Background()))
}
