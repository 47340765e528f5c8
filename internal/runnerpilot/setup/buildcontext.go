package setup

import (
	"archive/tar"
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"text/template"
	"time"
)

//go:embed assets/Dockerfile.tmpl assets/entrypoint.sh
var assets embed.FS

// archiveName is the runner archive's name inside the build context.
const archiveName = "actions-runner.tar.gz"

type dockerfileVars struct {
	BaseImage string
	Archive   string
	Version   string
}

func renderDockerfile(vars dockerfileVars) ([]byte, error) {
	raw, err := assets.ReadFile("assets/Dockerfile.tmpl")
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("Dockerfile").Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("setup: parse Dockerfile: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("setup: render Dockerfile: %w", err)
	}
	return buf.Bytes(), nil
}

// buildContext streams a tar archive holding the Dockerfile, the
// entrypoint and the runner archive at archivePath. The archive is copied
// from disk as the engine reads, never buffered whole.
func buildContext(baseImage, version, archivePath string) (io.ReadCloser, error) {
	dockerfile, err := renderDockerfile(dockerfileVars{BaseImage: baseImage, Archive: archiveName, Version: version})
	if err != nil {
		return nil, err
	}
	entrypoint, err := assets.ReadFile("assets/entrypoint.sh")
	if err != nil {
		return nil, err
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("setup: open runner archive: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("setup: stat runner archive: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer f.Close()
		pw.CloseWithError(writeContext(pw, dockerfile, entrypoint, f, fi.Size()))
	}()
	return pr, nil
}

func writeContext(w io.Writer, dockerfile, entrypoint []byte, archive io.Reader, size int64) error {
	tw := tar.NewWriter(w)
	now := time.Now()

	files := []struct {
		name string
		mode int64
		data []byte
	}{
		{"Dockerfile", 0o644, dockerfile},
		{"entrypoint.sh", 0o755, entrypoint},
	}
	for _, file := range files {
		hdr := &tar.Header{Name: file.name, Mode: file.mode, Size: int64(len(file.data)), ModTime: now}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", file.name, err)
		}
		if _, err := tw.Write(file.data); err != nil {
			return fmt.Errorf("writing %s to tar: %w", file.name, err)
		}
	}

	hdr := &tar.Header{Name: archiveName, Mode: 0o644, Size: size, ModTime: now}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", archiveName, err)
	}
	if _, err := io.CopyN(tw, archive, size); err != nil {
		return fmt.Errorf("writing %s to tar: %w", archiveName, err)
	}
	return tw.Close()
}
