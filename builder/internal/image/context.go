package image

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

const (
	dockerfileFilename  = "Dockerfile"
	imageConfigFilename = "image-config.json"
)

// WriteContext writes the build context of the image to dir: the Dockerfile, the configuration
// and the expected OCI image configuration. If binaryPath is not empty, the builder binary is
// copied as well.
func (r *Recipe) WriteContext(dir string, configYAML []byte, binaryPath string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %s", err)
	}

	if err := renameio.WriteFile(filepath.Join(dir, dockerfileFilename), []byte(r.Dockerfile()), 0644); err != nil {
		return fmt.Errorf("write %s: %s", dockerfileFilename, err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, configFilename), configYAML, 0644); err != nil {
		return fmt.Errorf("write %s: %s", configFilename, err)
	}

	b, err := json.MarshalIndent(r.ImageConfig(), "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(dir, imageConfigFilename), append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %s", imageConfigFilename, err)
	}

	if binaryPath != "" {
		if err := copyFile(binaryPath, filepath.Join(dir, binaryFilename), 0755); err != nil {
			return fmt.Errorf("copy binary: %s", err)
		}
	}
	return nil
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	t, err := renameio.TempFile("", dest)
	if err != nil {
		return err
	}
	defer func() {
		_ = t.Cleanup()
	}()
	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	if err := t.Chmod(perm); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
